// Package artifact implements the Artifact Accessor (C9): given a job
// identifier, resolve to the on-disk artifact or thumbnail file,
// returning NotReady if the job hasn't reached SUCCESS yet or Gone if
// the file has since disappeared from the artifact root.
//
// Grounded on the teacher's GetAssetContent handler, minus S3: files
// are served directly off local disk since §1's Non-goals forbid a
// CDN/upload layer.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/snappy-loop/videosynth/internal/apperr"
	"github.com/snappy-loop/videosynth/internal/jobstore"
	"github.com/snappy-loop/videosynth/internal/models"
)

// Kind selects which file of a job's result bundle to resolve.
type Kind int

const (
	KindArtifact Kind = iota
	KindThumbnail
)

// Resolved describes a file ready to be streamed to a caller.
type Resolved struct {
	Path        string
	ContentType string
	Filename    string
	SizeBytes   int64
	HumanSize   string
}

// Accessor resolves job IDs to files under a fixed artifact root.
type Accessor struct {
	jobs *jobstore.Store
	root string
}

// New builds an Accessor over the same root the Pipeline Driver's
// Finalize stage writes permanent artifacts into.
func New(jobs *jobstore.Store, root string) *Accessor {
	return &Accessor{jobs: jobs, root: root}
}

// Resolve looks up jobID's file of the requested kind.
func (a *Accessor) Resolve(ctx context.Context, jobID string, kind Kind) (*Resolved, error) {
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.StateSuccess || job.Result == nil {
		return nil, apperr.ErrNotReady
	}

	var path, contentType, filename string
	switch kind {
	case KindThumbnail:
		path = job.Result.ThumbnailPath
		contentType = "image/jpeg"
		filename = jobID + filepath.Ext(path)
	default:
		path = job.Result.ArtifactPath
		contentType = "video/mp4"
		filename = jobID + ".mp4"
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, apperr.ErrGone
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStoreUnavailable, err)
	}

	return &Resolved{
		Path:        path,
		ContentType: contentType,
		Filename:    filename,
		SizeBytes:   info.Size(),
		HumanSize:   humanize.Bytes(uint64(info.Size())),
	}, nil
}
