package redis

import (
	"context"
	"fmt"
	"slices"

	repository "github.com/sharetube/watchparty/internal/repository/telemetry"
	"github.com/sharetube/watchparty/internal/service/telemetry"
)

func (r repo) getDriftUsersKey(roomId string) string {
	return "room:" + roomId + ":drift"
}

func (r repo) getDriftKey(roomId, userId string) string {
	return "room:" + roomId + ":drift:" + userId
}

// Save keeps the latest report per user. Keys expire when a room stops
// reporting.
func (r repo) Save(ctx context.Context, report telemetry.Report) error {
	pipe := r.rc.TxPipeline()

	usersKey := r.getDriftUsersKey(report.RoomId)
	driftKey := r.getDriftKey(report.RoomId, report.UserId)
	r.hSetStruct(ctx, pipe, driftKey, repository.FromReport(report))
	pipe.SAdd(ctx, usersKey, report.UserId)
	pipe.Expire(ctx, driftKey, r.expireDuration)
	pipe.Expire(ctx, usersKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to save drift report: %w", err)
	}

	return nil
}

func (r repo) GetReport(ctx context.Context, roomId, userId string) (telemetry.Report, error) {
	driftKey := r.getDriftKey(roomId, userId)
	res := r.rc.HGetAll(ctx, driftKey)
	if err := res.Err(); err != nil {
		return telemetry.Report{}, fmt.Errorf("failed to get drift report: %w", err)
	}

	if len(res.Val()) == 0 {
		return telemetry.Report{}, repository.ErrReportNotFound
	}

	var report repository.Report
	if err := res.Scan(&report); err != nil {
		return telemetry.Report{}, fmt.Errorf("failed to scan drift report: %w", err)
	}

	return report.ToReport(), nil
}

// GetRoomReports returns the latest report of every user, ordered by user
// id. Users whose report expired are skipped.
func (r repo) GetRoomReports(ctx context.Context, roomId string) ([]telemetry.Report, error) {
	userIds, err := r.rc.SMembers(ctx, r.getDriftUsersKey(roomId)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get drift users: %w", err)
	}
	slices.Sort(userIds)

	reports := make([]telemetry.Report, 0, len(userIds))
	for _, userId := range userIds {
		report, err := r.GetReport(ctx, roomId, userId)
		if err != nil {
			if err == repository.ErrReportNotFound {
				r.logger.DebugContext(ctx, "drift report expired", "room_id", roomId, "user_id", userId)
				continue
			}
			return nil, err
		}

		reports = append(reports, report)
	}

	return reports, nil
}
