package tools

import "context"

func withGitTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, GitTimeout)
}
