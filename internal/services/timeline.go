package services

import (
	"fmt"

	"github.com/bobarin/reels/internal/models"
)

// SilenceFloorDb stands in for boundary loudness when no window covers the cut.
const SilenceFloorDb = -70.0

// BuildTimeline places the plan's segments on the output timeline and picks
// the transition at every internal boundary. profiles is indexed by clip
// index and may have empty entries when loudness analysis degraded.
func BuildTimeline(plan models.NarrativePlan, clips []models.ClipDescriptor, profiles [][]models.LoudnessWindow, format string, durationSec float64, musicPath string) (models.Timeline, error) {
	if len(plan.OrderedSegments) == 0 {
		return models.Timeline{}, fmt.Errorf("timeline has no segments")
	}

	paths := make(map[int]string, len(clips))
	for _, c := range clips {
		paths[c.Index] = c.LocalPath
	}

	entries := make([]models.TimelineEntry, len(plan.OrderedSegments))
	for i, seg := range plan.OrderedSegments {
		src, ok := paths[seg.ClipIndex]
		if !ok {
			return models.Timeline{}, fmt.Errorf("segment %d references unknown clip %d", i, seg.ClipIndex)
		}
		entries[i] = models.TimelineEntry{Segment: seg, SourcePath: src}
	}

	for i := 0; i < len(entries)-1; i++ {
		out, in := entries[i].Segment, entries[i+1].Segment
		spec := SelectTransition(boundaryLoudness(profiles, out, in))
		entries[i].Transition = &spec
	}

	return models.Timeline{
		Entries:     entries,
		Format:      format,
		DurationSec: durationSec,
		MusicPath:   musicPath,
	}, nil
}

// boundaryLoudness reads the outgoing clip at its cut point, falling back
// to the incoming clip at its start, then to SilenceFloorDb.
func boundaryLoudness(profiles [][]models.LoudnessWindow, out, in models.NarrativeSegment) float64 {
	if db, ok := windowAt(profileFor(profiles, out.ClipIndex), out.EndSec); ok {
		return db
	}
	if db, ok := windowAt(profileFor(profiles, in.ClipIndex), in.StartSec); ok {
		return db
	}
	return SilenceFloorDb
}

func profileFor(profiles [][]models.LoudnessWindow, clipIndex int) []models.LoudnessWindow {
	if clipIndex < 0 || clipIndex >= len(profiles) {
		return nil
	}
	return profiles[clipIndex]
}

// windowAt returns the latest window starting at or before t. Windows are
// sorted by time.
func windowAt(profile []models.LoudnessWindow, t float64) (float64, bool) {
	found := false
	var db float64
	for _, w := range profile {
		if w.TimeSec > t+bucketEpsilon {
			break
		}
		db, found = w.RMSDb, true
	}
	return db, found
}
