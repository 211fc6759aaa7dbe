// Package recovery implements the version-mismatch and corruption recovery
// protocol that runs before the entity store is opened.
//
// Check probes the persisted version without a schema. A trusted header is
// taken at face value; a bare version number goes through
// schema.CorrectVersion. Suspicious stores are exported into the session
// snapshot before anything destructive happens, and a store whose rows could
// not be exported from any store is never deleted.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mindvault/internal/common"
	"github.com/dmitrijs2005/mindvault/internal/kvstore"
	"github.com/dmitrijs2005/mindvault/internal/logging"
	"github.com/dmitrijs2005/mindvault/internal/models"
	"github.com/dmitrijs2005/mindvault/internal/schema"
)

type State int

const (
	Unchecked State = iota
	Checking
	Healthy
	Suspicious
	Error
	Exporting
	Resetting
	Recovered
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Checking:
		return "checking"
	case Healthy:
		return "healthy"
	case Suspicious:
		return "suspicious"
	case Error:
		return "error"
	case Exporting:
		return "exporting"
	case Resetting:
		return "resetting"
	case Recovered:
		return "recovered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SnapshotSink receives the recovery snapshot. session.Store implements it.
type SnapshotSink interface {
	SetSnapshot(snap models.Snapshot)
}

// Report describes the outcome of one protocol run.
type Report struct {
	State State

	// Persisted is the version found on disk, -1 when unreadable.
	Persisted int
	// Effective is the version the store is left at before migrations run.
	Effective int
	// Corrected is true when the version was rewritten in place.
	Corrected bool
	// Reset is true when the file was deleted or wiped.
	Reset bool

	Exported     int
	ExportFailed []string

	// Restored is filled by Restore.
	Restored models.BatchResult
}

type Config struct {
	Path   string
	Schema *schema.Schema

	// Timeout bounds each raw open of the store file.
	Timeout time.Duration

	// DeleteRetryDelay is the wait before the single delete retry.
	DeleteRetryDelay time.Duration

	Snapshots SnapshotSink
	Logger    logging.Logger
}

// Protocol runs the recovery state machine for one store file. It is not
// safe for concurrent use; the adapter runs it once per Init.
type Protocol struct {
	cfg     Config
	log     logging.Logger
	state   State
	pending models.Snapshot
}

func New(cfg Config) *Protocol {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Protocol{cfg: cfg, log: log.With("component", "recovery")}
}

// State returns the state reached by the last run.
func (p *Protocol) State() State { return p.state }

// Pending returns the snapshot captured by the last reset, if any.
func (p *Protocol) Pending() (models.Snapshot, bool) {
	return p.pending, p.pending != nil
}

func (p *Protocol) enter(ctx context.Context, s State) {
	p.log.Debug(ctx, "recovery state", "from", p.state.String(), "to", s.String())
	p.state = s
}

// Check probes the store and repairs it if the version is suspicious. A
// blocked file is reported as common.ErrBlocked so the caller can retry; a
// file that cannot be opened at all is never deleted.
func (p *Protocol) Check(ctx context.Context) (Report, error) {
	p.state = Unchecked
	p.pending = nil
	p.enter(ctx, Checking)

	current := p.cfg.Schema.Current()
	rep := Report{Persisted: -1}

	probe, err := kvstore.Probe(p.cfg.Path, p.cfg.Timeout)
	if err != nil {
		p.enter(ctx, Error)
		rep.State = Error
		if errors.Is(err, common.ErrBlocked) {
			return rep, err
		}
		return rep, fmt.Errorf("%w: probe %s: %w", common.ErrVersionCorrupted, p.cfg.Path, err)
	}

	if !probe.Exists {
		p.enter(ctx, Healthy)
		rep.State = Healthy
		rep.Effective = current
		return rep, nil
	}

	rep.Persisted = probe.Version

	if probe.Trusted {
		if probe.Version <= current {
			return p.healthy(ctx, rep, probe.Version), nil
		}
		p.enter(ctx, Suspicious)
		p.log.Warn(ctx, "store is newer than the schema", "persisted", probe.Version, "current", current)
		return p.reset(ctx, rep)
	}

	corrected, corrupted := schema.CorrectVersion(probe.Version)
	switch {
	case !corrupted && corrected <= current:
		return p.healthy(ctx, rep, corrected), nil
	case corrupted && corrected > 0 && corrected <= current:
		p.enter(ctx, Suspicious)
		p.log.Warn(ctx, "correcting concatenated store version", "persisted", probe.Version, "corrected", corrected)
		return p.correct(ctx, rep, corrected)
	default:
		p.enter(ctx, Suspicious)
		p.log.Warn(ctx, "store version is not recoverable", "persisted", probe.Version, "current", current)
		return p.reset(ctx, rep)
	}
}

func (p *Protocol) healthy(ctx context.Context, rep Report, v int) Report {
	p.enter(ctx, Healthy)
	rep.State = Healthy
	rep.Effective = v
	return rep
}

// export captures every readable row into the session. It fails when the
// file had stores and none of them could be read.
func (p *Protocol) export(ctx context.Context, rep *Report) (models.Snapshot, error) {
	p.enter(ctx, Exporting)

	snap, failed, err := kvstore.Export(p.cfg.Path, p.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: export before reset: %w", common.ErrVersionCorrupted, err)
	}
	rep.Exported = snap.Count()
	rep.ExportFailed = failed

	if len(snap) > 0 && len(failed) == len(snap) {
		return nil, fmt.Errorf("%w: no store could be exported, refusing to reset", common.ErrVersionCorrupted)
	}
	if len(failed) > 0 {
		p.log.Warn(ctx, "some stores could not be exported", "stores", failed)
	}

	if p.cfg.Snapshots != nil {
		p.cfg.Snapshots.SetSnapshot(snap)
	}
	p.log.Info(ctx, "exported recovery snapshot", "rows", rep.Exported, "stores", len(snap))
	return snap, nil
}

// correct rewrites a concatenated version to its leading digit and leaves
// the data in place for the normal migration path.
func (p *Protocol) correct(ctx context.Context, rep Report, v int) (Report, error) {
	if _, err := p.export(ctx, &rep); err != nil {
		p.enter(ctx, Error)
		rep.State = Error
		return rep, err
	}

	if err := kvstore.WriteVersion(p.cfg.Path, v, true, p.cfg.Timeout); err != nil {
		p.enter(ctx, Error)
		rep.State = Error
		return rep, fmt.Errorf("rewrite version %d: %w", v, err)
	}

	p.enter(ctx, Recovered)
	rep.State = Recovered
	rep.Corrected = true
	rep.Effective = v
	return rep, nil
}

// ForceReset runs the export and reset path regardless of the probe, for
// when opening the store reported a version conflict.
func (p *Protocol) ForceReset(ctx context.Context) (Report, error) {
	rep := Report{Persisted: -1}
	if probe, err := kvstore.Probe(p.cfg.Path, p.cfg.Timeout); err == nil {
		rep.Persisted = probe.Version
	}
	p.enter(ctx, Suspicious)
	return p.reset(ctx, rep)
}

func (p *Protocol) reset(ctx context.Context, rep Report) (Report, error) {
	snap, err := p.export(ctx, &rep)
	if err != nil {
		p.enter(ctx, Error)
		rep.State = Error
		return rep, err
	}

	p.enter(ctx, Resetting)
	if err := kvstore.Destroy(p.cfg.Path, p.cfg.DeleteRetryDelay); err != nil {
		p.log.Warn(ctx, "delete failed, wiping store in place", "error", err)
		if err := kvstore.Wipe(p.cfg.Path, p.cfg.Timeout); err != nil {
			p.log.Error(ctx, "wipe failed, continuing as deleted", "error", err)
		}
	}

	p.pending = snap
	p.enter(ctx, Recovered)
	rep.State = Recovered
	rep.Reset = true
	rep.Effective = 0
	return rep, nil
}

// Restorer is the part of the opened store Restore writes through.
type Restorer interface {
	Restore(ctx context.Context, snap models.Snapshot) models.BatchResult
}

// Restore writes the snapshot captured by the last reset back into the
// recreated store. The session copy is kept so a user can still retrieve
// rows a store rejected.
func (p *Protocol) Restore(ctx context.Context, db Restorer) models.BatchResult {
	if p.pending == nil {
		return models.BatchResult{}
	}
	res := db.Restore(ctx, p.pending)
	for _, f := range res.Failed {
		p.log.Warn(ctx, "store not restored", "store", f.Store, "error", f.Err)
	}
	p.log.Info(ctx, "restored recovery snapshot", "stores", len(res.Succeeded), "failed", len(res.Failed))
	p.pending = nil
	return res
}
