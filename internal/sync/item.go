package sync

import (
	"time"

	"github.com/njoerd114/picasync/internal/model"
)

// SkewTolerance is the largest timestamp difference still treated as
// "unchanged". Local and remote clocks are never perfectly aligned.
const SkewTolerance = 5 * time.Second

// Action is the decision for one candidate.
type Action int

const (
	ActionNone     Action = iota
	ActionUpload          // local side wins → push to remote
	ActionDownload        // remote side wins → write locally
)

// String returns the action name used in logs.
func (a Action) String() string {
	switch a {
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	default:
		return "none"
	}
}

// Policy holds the user's sync toggles.
type Policy struct {
	DownloadNew     bool
	DownloadChanged bool
	UploadNew       bool
	UploadChanged   bool

	// AutoBackupDownload and AutoBackupUpload apply to instant-upload albums
	// for both new and changed items.
	AutoBackupDownload bool
	AutoBackupUpload   bool

	// UseChecksums enables the checksum short-circuit for pairs whose remote
	// side reports a checksum.
	UseChecksums bool

	ExcludeVideos  bool
	ExcludeDropBox bool
}

func (p Policy) anyUpload() bool {
	return p.UploadNew || p.UploadChanged
}

func (p Policy) anyAlbumSync() bool {
	return p.DownloadNew || p.DownloadChanged || p.UploadNew || p.UploadChanged
}

// Candidate pairs at most one local file with at most one remote photo of the
// same case-insensitive filename. At least one side is always present.
type Candidate struct {
	LocalName    string
	LocalModTime time.Time
	LocalSize    int64
	Remote       *model.Photo

	// MarkedForDeletion routes the candidate to the recycle bin instead of
	// the upload/download decision.
	MarkedForDeletion bool
}

// HasLocal reports whether the local side is present.
func (c *Candidate) HasLocal() bool { return c.LocalName != "" }

// HasRemote reports whether the remote side is present.
func (c *Candidate) HasRemote() bool { return c.Remote != nil }

// Name is the local filename, or the remote title for remote-only candidates.
func (c *Candidate) Name() string {
	if c.HasLocal() {
		return c.LocalName
	}
	if c.HasRemote() {
		return c.Remote.Title
	}
	return ""
}

// UniqueKey identifies the logical photo across listings and clients.
func (c *Candidate) UniqueKey() string {
	if c.HasRemote() {
		return model.UniqueKey(c.Remote)
	}
	return model.FallbackKey(c.LocalName, c.LocalModTime)
}

// NewerThan reports whether either side changed after threshold. It is a
// cheap pre-filter run before [ItemReconciler.EvaluateAction].
func (c *Candidate) NewerThan(threshold time.Time) bool {
	if c.HasLocal() && c.LocalModTime.After(threshold) {
		return true
	}
	return c.HasRemote() && c.Remote.Updated.After(threshold)
}

// ChecksumFunc computes the checksum of a local file in the album folder.
type ChecksumFunc func(name string) (string, error)

// ItemReconciler decides upload, download or nothing for one candidate. It is
// stateless apart from its configuration.
type ItemReconciler struct {
	policy     Policy
	autoBackup bool
	checksum   ChecksumFunc
}

// NewItemReconciler creates an ItemReconciler. autoBackup selects the
// combined instant-upload toggles. checksum may be nil.
func NewItemReconciler(policy Policy, autoBackup bool, checksum ChecksumFunc) *ItemReconciler {
	return &ItemReconciler{policy: policy, autoBackup: autoBackup, checksum: checksum}
}

// EvaluateAction returns the gated decision for c. It panics if c has
// neither side, which indicates a bug in candidate construction.
func (r *ItemReconciler) EvaluateAction(c *Candidate) Action {
	act, isNew := r.tentative(c)
	switch act {
	case ActionDownload:
		if r.canDownload(isNew) {
			return ActionDownload
		}
	case ActionUpload:
		if r.canUpload(isNew) {
			return ActionUpload
		}
	}
	return ActionNone
}

// tentative computes the ungated action and whether the item is new.
func (r *ItemReconciler) tentative(c *Candidate) (Action, bool) {
	switch {
	case !c.HasLocal() && !c.HasRemote():
		panic("sync: candidate has neither a local nor a remote side")
	case !c.HasRemote():
		return ActionUpload, true
	case !c.HasLocal():
		return ActionDownload, true
	}

	if r.checksumsMatch(c) {
		return ActionNone, false
	}

	// Whole seconds, truncated toward zero.
	delta := c.LocalModTime.Sub(c.Remote.Updated) / time.Second
	tolerance := SkewTolerance / time.Second
	switch {
	case delta > tolerance:
		return ActionUpload, false
	case delta < -tolerance:
		return ActionDownload, false
	default:
		return ActionNone, false
	}
}

func (r *ItemReconciler) checksumsMatch(c *Candidate) bool {
	if !r.policy.UseChecksums || r.checksum == nil || c.Remote.Checksum == "" {
		return false
	}
	local, err := r.checksum(c.LocalName)
	if err != nil {
		return false
	}
	return local == c.Remote.Checksum
}

func (r *ItemReconciler) canDownload(isNew bool) bool {
	if r.autoBackup {
		return r.policy.AutoBackupDownload
	}
	if isNew {
		return r.policy.DownloadNew
	}
	return r.policy.DownloadChanged
}

func (r *ItemReconciler) canUpload(isNew bool) bool {
	if r.autoBackup {
		return r.policy.AutoBackupUpload
	}
	if isNew {
		return r.policy.UploadNew
	}
	return r.policy.UploadChanged
}
