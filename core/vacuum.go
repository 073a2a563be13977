package core

import (
	"context"
	"time"
)

// Vacuumer physically deletes fragment directories that a consolidation
// has superseded, once they are safely outside any snapshot an open
// Array could still be reading from. This is the supplemental
// vacuum-grace-period feature from SPEC_FULL.md §9:
// a fragment becomes eligible for deletion only after its supersession
// is at least GracePeriod old, bounding how long a long-lived read
// handle can keep observing pre-consolidation fragments before a
// concurrent vacuum invalidates them.
type Vacuumer struct {
	vfs         VFS
	arrayURI    string
	GracePeriod time.Duration
}

func NewVacuumer(vfs VFS, arrayURI string) *Vacuumer {
	return &Vacuumer{vfs: vfs, arrayURI: arrayURI, GracePeriod: 10 * time.Minute}
}

// SupersededFragment names one obsolete fragment directory and the time
// its replacement was committed.
type SupersededFragment struct {
	URI          string
	SupersededAt time.Time
}

// Vacuum removes every superseded fragment whose grace period has
// elapsed as of now, returning the directory names actually removed.
func (v *Vacuumer) Vacuum(ctx context.Context, obsolete []SupersededFragment, now time.Time) ([]string, error) {
	var removed []string
	for _, sf := range obsolete {
		if now.Sub(sf.SupersededAt) < v.GracePeriod {
			continue
		}
		dir := v.arrayURI + "/" + sf.URI
		// Commit marker goes first: a reader mid-open that already listed
		// this fragment will fail its read rather than see a half-deleted
		// one, the same ordering discipline FragmentWriter.Commit uses in
		// reverse.
		if err := v.vfs.Remove(ctx, dir+"/"+FragmentMarkerFile); err != nil {
			return removed, errf(ErrIO, err, "vacuum: remove marker for %s", sf.URI)
		}
		if err := v.vfs.Remove(ctx, dir); err != nil {
			return removed, errf(ErrIO, err, "vacuum: remove %s", sf.URI)
		}
		removed = append(removed, sf.URI)
	}
	return removed, nil
}
