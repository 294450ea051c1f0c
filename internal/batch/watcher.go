package batch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch performs one full pass over inputDir and then keeps watching it,
// re-running the pass whenever new audio files appear. Passes are
// debounced so a burst of copies triggers a single rescan, and the
// skip-if-exists check keeps repeated passes idempotent. Watch returns
// when ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, inputDir, outputDir string, debounce time.Duration) error {
	if _, err := r.Run(ctx, inputDir, outputDir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(inputDir); err != nil {
		return err
	}
	r.logger.Printf("watching %s for new audio files", inputDir)

	rescan := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case rescan <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if r.isAllowed(event.Name) {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Printf("watcher error: %v", err)
		case <-rescan:
			summary, err := r.Run(ctx, inputDir, outputDir)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Printf("rescan error: %v", err)
				continue
			}
			if summary.Processed > 0 || summary.Failed > 0 {
				r.logger.Printf("rescan: %d generated, %d skipped, %d failed",
					summary.Processed, summary.Skipped, summary.Failed)
			}
		}
	}
}
