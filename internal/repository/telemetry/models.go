package telemetry

import (
	"errors"
	"time"

	"github.com/sharetube/watchparty/internal/service/telemetry"
)

var ErrReportNotFound = errors.New("report not found")

// Report is the stored form of a telemetry report.
type Report struct {
	RoomId     string  `redis:"room_id"`
	UserId     string  `redis:"user_id"`
	VideoId    string  `redis:"video_id"`
	Position   float64 `redis:"position"`
	Expected   float64 `redis:"expected"`
	Drift      float64 `redis:"drift"`
	ReportedAt int64   `redis:"reported_at"`
}

func FromReport(r telemetry.Report) Report {
	return Report{
		RoomId:     r.RoomId,
		UserId:     r.UserId,
		VideoId:    r.VideoId,
		Position:   r.Position,
		Expected:   r.Expected,
		Drift:      r.Drift,
		ReportedAt: r.ReportedAt.UnixMilli(),
	}
}

func (r Report) ToReport() telemetry.Report {
	return telemetry.Report{
		RoomId:     r.RoomId,
		UserId:     r.UserId,
		VideoId:    r.VideoId,
		Position:   r.Position,
		Expected:   r.Expected,
		Drift:      r.Drift,
		ReportedAt: time.UnixMilli(r.ReportedAt).UTC(),
	}
}
