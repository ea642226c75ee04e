package assignment

import "time"

// SetNowFunc freezes the clock of a service built by NewService.
func SetNowFunc(svc Service, now func() time.Time) {
	svc.(*service).nowFunc = now
}
