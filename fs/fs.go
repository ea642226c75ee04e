package appfs

import "embed"

//go:embed migrations/*.sql templates/email/*
var FS embed.FS
