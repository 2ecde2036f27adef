// Package separator wraps the two external AI separators (Spleeter and
// Demucs) behind a common driver contract. Long inputs are split into
// 600 s segments with zero overlap, processed with bounded parallelism,
// and joined back with a demuxer concat in start-time order.
package separator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/EdisAganovic/musicremoval/internal/media"
	"github.com/EdisAganovic/musicremoval/internal/types"
)

// SegmentSeconds is both the segmentation threshold and the maximum
// segment length. Segments never overlap; the demuxer concat keeps the
// joined stream gapless.
const SegmentSeconds = 600.0

// ProgressFunc receives driver-local progress in [0,100] with a step label.
type ProgressFunc func(pct float64, step string)

// Driver runs an external separator on a 44.1 kHz stereo WAV and returns
// the path of the produced vocal stem. The driver writes only inside
// outDir, which the caller supplies empty.
type Driver interface {
	Name() string
	Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error)
}

// Segment is one contiguous slice of the input, ordered by start time.
type Segment struct {
	Index    int
	Start    float64
	Duration float64
}

// PlanSegments computes the split for a given duration. Inputs at or
// under the threshold yield a single segment covering the whole file.
func PlanSegments(duration float64) []Segment {
	if duration <= SegmentSeconds {
		return []Segment{{Index: 0, Start: 0, Duration: duration}}
	}
	var segs []Segment
	start := 0.0
	for i := 0; start < duration; i++ {
		length := SegmentSeconds
		if remaining := duration - start; remaining < length {
			length = remaining
		}
		segs = append(segs, Segment{Index: i, Start: start, Duration: length})
		start += length
	}
	return segs
}

// segmentFileName names split WAVs so lexical order equals start order.
func segmentFileName(index int) string {
	return fmt.Sprintf("part_%03d.wav", index)
}

// runSegmented is the shared long-input path: split, run the per-segment
// function under the worker bound, then concat in original order.
// runSegment returns the vocal WAV for one split part.
func runSegmented(
	ctx context.Context,
	tk *media.Toolkit,
	driverName, wavIn, outDir string,
	segs []Segment,
	workers int,
	progress ProgressFunc,
	runSegment func(ctx context.Context, seg Segment, segmentWAV string) (string, error),
) (string, error) {
	segDir := filepath.Join(outDir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return "", err
	}

	splitPaths := make([]string, len(segs))
	for _, seg := range segs {
		p := filepath.Join(segDir, segmentFileName(seg.Index))
		if err := tk.CutSegment(ctx, wavIn, p, seg.Start, seg.Duration); err != nil {
			return "", err
		}
		splitPaths[seg.Index] = p
	}

	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	vocalPaths := make([]string, len(segs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for _, seg := range segs {
		seg := seg
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			vocal, err := runSegment(gctx, seg, splitPaths[seg.Index])
			if err != nil {
				return err
			}
			vocalPaths[seg.Index] = vocal
			progress(float64(done.Add(1))/float64(len(segs))*100,
				fmt.Sprintf("%s segment %d/%d", driverName, seg.Index+1, len(segs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	joined := filepath.Join(outDir, "vocals_joined.wav")
	if err := tk.ConcatCopy(ctx, vocalPaths, segDir, joined); err != nil {
		return "", err
	}
	if !media.FileNonEmpty(joined) {
		return "", &types.PipelineError{
			Kind:    types.KindSeparatorFailed,
			Which:   driverName,
			Message: "joined vocal output is missing or empty",
		}
	}
	return joined, nil
}
