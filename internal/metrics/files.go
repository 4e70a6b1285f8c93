package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FileMetrics counts domain events of the file service.
type FileMetrics struct {
	filesUploaded   metric.Int64Counter
	filesDeleted    metric.Int64Counter
	filesDownloaded metric.Int64Counter
	filesListViewed metric.Int64Counter
	orphanedBlobs   metric.Int64Counter
	logins          metric.Int64Counter
	resetsRequested metric.Int64Counter
	resetsRedeemed  metric.Int64Counter
	mailFailures    metric.Int64Counter
}

func NewFileMetrics(meter metric.Meter) (*FileMetrics, error) {
	fm := &FileMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&fm.filesUploaded, "file_service.files.uploaded", "Total number of files uploaded", "{file}"},
		{&fm.filesDeleted, "file_service.files.deleted", "Total number of files deleted", "{file}"},
		{&fm.filesDownloaded, "file_service.files.downloaded", "Total number of download links resolved", "{download}"},
		{&fm.filesListViewed, "file_service.files.list_viewed", "Total number of times the file list was viewed", "{view}"},
		{&fm.orphanedBlobs, "file_service.blobs.orphaned", "Blobs left behind after a failed record insert", "{blob}"},
		{&fm.logins, "file_service.auth.logins", "Login attempts by outcome", "{login}"},
		{&fm.resetsRequested, "file_service.auth.password_resets_requested", "Password reset requests", "{request}"},
		{&fm.resetsRedeemed, "file_service.auth.password_resets_redeemed", "Password reset tickets redeemed", "{ticket}"},
		{&fm.mailFailures, "file_service.mail.failures", "Mail deliveries that failed", "{mail}"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	return fm, nil
}

func add(ctx context.Context, c metric.Int64Counter, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, 1, opts...)
	}
}

func (fm *FileMetrics) RecordUpload(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.filesUploaded)
	}
}

func (fm *FileMetrics) RecordDelete(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.filesDeleted)
	}
}

func (fm *FileMetrics) RecordDownload(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.filesDownloaded)
	}
}

func (fm *FileMetrics) RecordListViewed(ctx context.Context, role string) {
	if fm != nil {
		add(ctx, fm.filesListViewed, metric.WithAttributes(attribute.String("role", role)))
	}
}

func (fm *FileMetrics) RecordOrphanedBlob(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.orphanedBlobs)
	}
}

func (fm *FileMetrics) RecordLogin(ctx context.Context, success bool) {
	if fm != nil {
		add(ctx, fm.logins, metric.WithAttributes(attribute.Bool("success", success)))
	}
}

func (fm *FileMetrics) RecordResetRequested(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.resetsRequested)
	}
}

func (fm *FileMetrics) RecordResetRedeemed(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.resetsRedeemed)
	}
}

func (fm *FileMetrics) RecordMailFailure(ctx context.Context) {
	if fm != nil {
		add(ctx, fm.mailFailures)
	}
}
