package dashboard

import "time"

func (svc *Service) SetNowFunc(now func() time.Time) {
	svc.nowFunc = now
}
