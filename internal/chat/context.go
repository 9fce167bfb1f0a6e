package chat

import "context"

type jobKey struct{}

// WithJob attaches the job being delivered to ctx so sinks can tag what
// they send.
func WithJob(ctx context.Context, job ReplyJob) context.Context {
	return context.WithValue(ctx, jobKey{}, job)
}

// JobFrom returns the job attached by WithJob.
func JobFrom(ctx context.Context) (ReplyJob, bool) {
	job, ok := ctx.Value(jobKey{}).(ReplyJob)
	return job, ok
}
