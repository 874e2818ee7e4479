// Package mountrunner owns the FUSE server lifecycle (SPEC_FULL.md §4.5's
// outer loop): building the shadow model and dispatcher from a resolved
// cfg.Config, mounting, waiting for unmount, and persisting the shadow model
// on a clean teardown. cmd.Mount calls into this package after deciding
// whether to daemonize.
package mountrunner

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/chordtoll/posinvck-go/cfg"
	"github.com/chordtoll/posinvck-go/fs"
	"github.com/chordtoll/posinvck-go/internal/inodemap"
	"github.com/chordtoll/posinvck-go/internal/logger"
	"github.com/chordtoll/posinvck-go/internal/persist"
	"github.com/chordtoll/posinvck-go/internal/shadow"
)

const UnsuccessfulMountMessagePrefix = "Error while mounting posinvck"
const SuccessfulMountMessage = "File system has been successfully mounted."

// registerSIGINTHandler lets the user unmount with Ctrl-C, retrying until the
// kernel actually releases the mount.
func registerSIGINTHandler(server *fuse.Server, mountPoint string) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)

	go func() {
		for range signalChan {
			logger.Infof("Received SIGINT, attempting to unmount %s...", mountPoint)
			if err := server.Unmount(); err != nil {
				logger.Errorf("Failed to unmount in response to SIGINT: %v", err)
				continue
			}
			logger.Infof("Successfully unmounted in response to SIGINT.")
			return
		}
	}()
}

// loadShadowModel restores a Model's tables from a prior clean unmount's
// sidecar files, per SPEC_FULL.md §4.6: the sentinel file gates whether a
// prior session exists at all, and is deleted up front so a crash partway
// through loading never leaves a stale sentinel behind for the next mount.
func loadShadowModel(dir string, model *shadow.Model) error {
	if !persist.SentinelExists(dir) {
		return nil
	}
	if err := persist.DeleteSentinel(dir); err != nil {
		return fmt.Errorf("deleting persisted-session sentinel: %w", err)
	}
	snap, err := persist.Load(dir)
	if err != nil {
		return fmt.Errorf("loading persisted shadow model: %w", err)
	}

	for ino, paths := range snap.Paths {
		for _, p := range paths {
			model.InodePaths.Insert(ino, p)
			model.InvInodePaths.Insert(ino, p)
		}
	}
	for ino, attr := range snap.Meta {
		model.SetAttr(ino, attr)
	}
	for ino, entries := range snap.Dirs {
		for name, child := range entries {
			model.SetDirEntry(ino, name, child)
		}
	}
	for ino, buf := range snap.Data {
		model.SetData(ino, buf)
	}
	for ino, entries := range snap.Xattrs {
		for name, val := range entries {
			model.SetXattr(ino, name, val)
		}
	}
	return nil
}

// snapshotShadowModel assembles a persist.Snapshot from the live tables a
// Model happens to be tracking, for Save to serialize on clean unmount.
func snapshotShadowModel(model *shadow.Model, root uint64) persist.Snapshot {
	snap := persist.Snapshot{
		Paths:  make(map[uint64][]string),
		Meta:   make(map[uint64]shadow.FileAttr),
		Dirs:   make(map[uint64]map[string]uint64),
		Data:   make(map[uint64][]byte),
		Xattrs: make(map[uint64]map[string][]byte),
	}
	walkKnownInodes(model, root, func(ino uint64) {
		if paths, ok := model.InodePaths.GetAll(ino); ok {
			snap.Paths[ino] = paths
		}
		if attr, ok := model.Attr(ino); ok {
			snap.Meta[ino] = attr
		}
		if entries := model.DirEntries(ino); entries != nil {
			snap.Dirs[ino] = entries
		}
		if data := model.Data(ino); data != nil {
			snap.Data[ino] = append([]byte(nil), data...)
		}
		if xattrs := model.Xattrs(ino); xattrs != nil {
			snap.Xattrs[ino] = xattrs
		}
	})
	return snap
}

// walkKnownInodes visits every inode reachable from root's directory
// listings, recursively, so snapshotShadowModel only serializes entries the
// dispatcher actually minted rather than scanning unrelated bookkeeping.
func walkKnownInodes(model *shadow.Model, root uint64, visit func(ino uint64)) {
	seen := map[uint64]bool{root: true}
	queue := []uint64{root}
	for len(queue) > 0 {
		ino := queue[0]
		queue = queue[1:]
		visit(ino)
		for _, child := range model.DirEntries(ino) {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
}

// Run builds the shadow model and dispatcher described by config, serves the
// mount until it is unmounted, and persists the shadow model if configured
// to do so. onMounted, if non-nil, is called once WaitMount succeeds or
// fails, letting the caller signal the outcome to a daemonizing parent
// without this package needing to know about daemonize at all.
func Run(config *cfg.Config, onMounted func(error)) error {
	shadowCfg := shadow.Config{
		CheckMetadata: config.Shadow.CheckMetadata,
		CheckDirs:     config.Shadow.CheckDirs,
		CheckData:     config.Shadow.CheckData,
		CheckXattrs:   config.Shadow.CheckXattrs,
	}
	model := shadow.NewModel(shadowCfg)

	base := string(config.Base)
	if err := bootstrapShadowModel(base, model, config.Debug.Persist); err != nil {
		logger.Warnf("%s: %v", UnsuccessfulMountMessagePrefix, err)
	}

	// Invariant violations must kill the whole process, not just unwind the
	// goroutine servicing the request that tripped one: go-fuse recovers
	// per-request panics into EIO so the mount keeps serving, which would
	// silently paper over the very bugs this tool exists to surface.
	if config.Debug.ExitOnInvariantViolation {
		shadow.Abort = func(v *shadow.Violation) {
			logger.Errorf("%v", v)
			os.Exit(1)
		}
	}

	hooks := shadow.NewHooks(model)
	dispatcher := fs.NewDispatcher(base, model, hooks)

	mountPoint := string(config.Mountpoint)
	opts := &fuse.MountOptions{
		Name:          "posinvck",
		FsName:        base,
		Debug:         config.Logging.Severity == cfg.TraceLogSeverity,
		MaxBackground: 12,
	}

	signalOutcome := func(mountErr error) {
		if onMounted != nil {
			onMounted(mountErr)
		}
	}

	server, err := fuse.NewServer(dispatcher, mountPoint, opts)
	if err != nil {
		err = fmt.Errorf("%s: fuse.NewServer: %w", UnsuccessfulMountMessagePrefix, err)
		signalOutcome(err)
		return err
	}

	registerSIGINTHandler(server, mountPoint)

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		err = fmt.Errorf("%s: WaitMount: %w", UnsuccessfulMountMessagePrefix, err)
		signalOutcome(err)
		return err
	}
	logger.Infof(SuccessfulMountMessage)
	signalOutcome(nil)

	server.Wait()

	if config.Debug.Persist {
		snap := snapshotShadowModel(model, inodemap.RootInode)
		if err := persist.Save(base, model, snap); err != nil {
			logger.Errorf("persisting shadow model on unmount: %v", err)
		}
	}
	return nil
}
