package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/fruitsalade/librarian/internal/failure"
	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/pkg/models"
)

// Outcome is how a move ended.
type Outcome string

const (
	OutcomeRejected       Outcome = "rejected"
	OutcomeMoved          Outcome = "moved"
	OutcomeMovedWithNotes Outcome = "moved_with_notes"
	OutcomeTwoStep        Outcome = "two_step_complete"
	OutcomePartialOrg     Outcome = "partial_organization"
	OutcomeTwoStepFailed  Outcome = "two_step_failed"
	OutcomeDeclined       Outcome = "two_step_declined"
	OutcomeFailed         Outcome = "failed"
)

// Report describes a finished move.
type Report struct {
	Outcome    Outcome
	Smart      models.MoveResult
	PhaseA     *models.MoveResult
	PhaseB     *models.MoveResult
	Reconciled Result
}

// ConfirmFunc is asked before a two-step move starts. Returning false cancels it.
type ConfirmFunc func(ctx context.Context, plan models.MoveResult) bool

// Reconciling is what the orchestrator needs after a mutation.
type Reconciling interface {
	Reconcile(ctx context.Context, t Target) Result
	RefreshCurrent(ctx context.Context) Result
}

// Orchestrator runs mutations against the backend, one at a time, and
// reports every outcome as a notification.
type Orchestrator struct {
	backend    Backend
	reconciler Reconciling
	sink       notify.Sink
	confirm    ConfirmFunc
	libraryOf  func(models.ContainerID) (models.ContainerID, bool)
	guard      guard
}

// NewOrchestrator builds an orchestrator. libraryOf resolves the library a
// folder belongs to; confirm may be nil.
func NewOrchestrator(b Backend, r Reconciling, sink notify.Sink, libraryOf func(models.ContainerID) (models.ContainerID, bool), confirm ConfirmFunc) *Orchestrator {
	if sink == nil {
		sink = notify.LogSink{}
	}
	return &Orchestrator{backend: b, reconciler: r, sink: sink, confirm: confirm, libraryOf: libraryOf}
}

// InProgress reports whether a mutation is running.
func (o *Orchestrator) InProgress() bool { return o.guard.held() }

func (o *Orchestrator) notify(kind notify.Kind, title, message string) {
	o.sink.Notify(notify.New(kind, title, message))
}

// ─── Move ───────────────────────────────────────────────────────────────────

// Move relocates items to dest. The backend decides whether that is possible
// directly; if it instead asks for a two-step move, the items are first added
// to the target library and then filed into the target folder. Phase B never
// starts when Phase A failed.
func (o *Orchestrator) Move(ctx context.Context, itemIDs []string, dest models.ContainerID) (Report, error) {
	if len(itemIDs) == 0 {
		o.notify(notify.Error, "Error", "Please select files to move")
		return Report{Outcome: OutcomeRejected}, failure.Validation("Please select files to move")
	}
	if dest.IsZero() {
		o.notify(notify.Error, "Error", "Please select a destination")
		return Report{Outcome: OutcomeRejected}, failure.Validation("Please select a destination")
	}
	if !o.guard.acquire() {
		return Report{Outcome: OutcomeRejected}, ErrOperationInProgress
	}
	defer o.guard.release()

	report, err := o.move(ctx, itemIDs, dest)
	metrics.RecordMoveOutcome(string(report.Outcome))
	logging.Named("move").Info("move finished",
		logging.IDs("items", itemIDs),
		logging.Stringer("destination", dest),
		logging.String("outcome", string(report.Outcome)))
	return report, err
}

func (o *Orchestrator) move(ctx context.Context, itemIDs []string, dest models.ContainerID) (Report, error) {
	target := Target{Container: dest}
	if dest.IsFolder() && o.libraryOf != nil {
		target.Library, _ = o.libraryOf(dest)
	}

	res, err := o.backend.SmartMove(ctx, itemIDs, dest)
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		o.notify(notify.Error, "Move Failed", err.Error())
		report := Report{Outcome: OutcomeFailed, Smart: res}
		report.Reconciled = o.reconciler.RefreshCurrent(ctx)
		return report, failure.Hard("move", nil, err)
	}

	report := Report{Smart: res}
	switch {
	case res.Success && !res.PartialSuccess:
		o.notify(notify.Success, "Files Moved Successfully",
			fmt.Sprintf("%d files moved to destination successfully.", res.SuccessCount))
		report.Outcome = OutcomeMoved
		report.Reconciled = o.reconciler.Reconcile(ctx, target)
		return report, nil

	case res.Success:
		o.notify(notify.Warning, "Files Moved with Notes", strings.Join(res.Errors, "\n"))
		report.Outcome = OutcomeMovedWithNotes
		report.Reconciled = o.reconciler.Reconcile(ctx, target)
		return report, failure.Partial("move", res.SuccessCount, res.Errors)

	case res.RequiresTwoStep:
		return o.twoStep(ctx, itemIDs, report)

	default:
		o.notify(notify.Error, "Move Failed", joinOr(res.Errors, ", ", "Unknown error"))
		report.Outcome = OutcomeFailed
		report.Reconciled = o.reconciler.RefreshCurrent(ctx)
		return report, failure.Hard("move", res.Errors, nil)
	}
}

func (o *Orchestrator) twoStep(ctx context.Context, itemIDs []string, report Report) (Report, error) {
	plan := report.Smart
	if o.confirm != nil && !o.confirm(ctx, plan) {
		o.notify(notify.Info, "Move Cancelled",
			fmt.Sprintf("Files were not moved to %s.", plan.TargetFolderName))
		report.Outcome = OutcomeDeclined
		return report, nil
	}

	a, err := o.backend.AddToLibrary(ctx, itemIDs, plan.TargetLibraryID)
	if err != nil || !a.Success {
		errs := append([]string(nil), a.Errors...)
		if err != nil {
			errs = append(errs, err.Error())
		}
		o.notify(notify.Error, "Two-Step Move Failed", "Library move failed: "+joinOr(errs, ", ", "Unknown error"))
		report.PhaseA = &a
		report.Outcome = OutcomeTwoStepFailed
		// Nothing moved; the tree and selection stay as they were.
		return report, failure.Protocol(failure.PhaseAddToLibrary, a.Errors, err)
	}
	report.PhaseA = &a

	msg := fmt.Sprintf("Files added to %s.", plan.TargetLibraryName)
	if a.PartialSuccess {
		msg += " Some files remain shared in their original libraries."
	}
	o.notify(notify.Info, "Step 1 Complete", msg+" Now organizing into folder...")

	b, err := o.backend.MoveToFolder(ctx, itemIDs, plan.TargetFolderID, plan.TargetLibraryID)
	report.PhaseB = &b
	if err == nil && b.Success {
		o.notify(notify.Success, "Two-Step Move Complete!",
			fmt.Sprintf("Files successfully organized in %s", plan.TargetFolderName))
		report.Outcome = OutcomeTwoStep
		report.Reconciled = o.reconciler.Reconcile(ctx, Target{Container: plan.TargetFolderID, Library: plan.TargetLibraryID})
		return report, nil
	}

	errs := append([]string(nil), b.Errors...)
	if err != nil {
		errs = append(errs, err.Error())
	}
	msg = fmt.Sprintf("Files moved to %s but folder organization into %s had issues.",
		plan.TargetLibraryName, plan.TargetFolderName)
	if len(errs) > 0 {
		msg += " " + strings.Join(errs, ", ")
	}
	o.notify(notify.Warning, "Partial Organization Complete", msg)
	report.Outcome = OutcomePartialOrg
	report.Reconciled = o.reconciler.Reconcile(ctx, Target{Container: plan.TargetLibraryID, Library: plan.TargetLibraryID})
	return report, failure.Protocol(failure.PhaseMoveToFolder, b.Errors, err)
}

// ─── Delete ─────────────────────────────────────────────────────────────────

// Delete removes items and refreshes the current view.
func (o *Orchestrator) Delete(ctx context.Context, itemIDs []string) (models.DeleteResult, error) {
	if len(itemIDs) == 0 {
		o.notify(notify.Error, "Error", "Please select files to delete")
		return models.DeleteResult{}, failure.Validation("Please select files to delete")
	}
	if !o.guard.acquire() {
		return models.DeleteResult{}, ErrOperationInProgress
	}
	defer o.guard.release()

	res, err := o.backend.DeleteItems(ctx, itemIDs)
	switch {
	case err != nil:
		o.notify(notify.Error, "Delete Failed", err.Error())
		err = failure.Hard("delete", nil, err)
	case res.Success:
		o.notify(notify.Success, "Success", fmt.Sprintf("%d files deleted successfully", res.SuccessCount))
	case res.SuccessCount > 0:
		o.notify(notify.Success, "Success", fmt.Sprintf("%d files deleted successfully", res.SuccessCount))
		o.notify(notify.Warning, "Partial Success",
			fmt.Sprintf("%d files could not be deleted.\n%s", len(res.Errors), strings.Join(res.Errors, "\n")))
		err = failure.Partial("delete", res.SuccessCount, res.Errors)
	default:
		o.notify(notify.Error, "Delete Failed", joinOr(res.Errors, ", ", "Unknown error"))
		err = failure.Hard("delete", res.Errors, nil)
	}
	o.reconciler.RefreshCurrent(ctx)
	return res, err
}

// ─── Create folder ──────────────────────────────────────────────────────────

// CreateFolder creates a folder under parent, or at the top of library when
// parent is zero, and keeps the user where they were.
func (o *Orchestrator) CreateFolder(ctx context.Context, name string, library, parent models.ContainerID) (models.Container, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		o.notify(notify.Error, "Error", "Folder name is required")
		return models.Container{}, failure.Validation("Folder name is required")
	}
	if !library.IsLibrary() {
		o.notify(notify.Error, "Error", "Please select a library first")
		return models.Container{}, failure.Validation("Please select a library first")
	}
	if !o.guard.acquire() {
		return models.Container{}, ErrOperationInProgress
	}
	defer o.guard.release()

	folder, err := o.backend.CreateFolder(ctx, name, library, parent)
	if err != nil {
		o.notify(notify.Error, "Error", "Error creating folder: "+err.Error())
		return models.Container{}, failure.Hard("create folder", nil, err)
	}
	o.notify(notify.Success, "Success", fmt.Sprintf("Folder %q created successfully", folder.Label))

	target := Target{Container: library, Library: library}
	if parent.IsFolder() {
		target.Container = parent
	}
	o.reconciler.Reconcile(ctx, target)
	return folder, nil
}

func joinOr(list []string, sep, fallback string) string {
	if len(list) == 0 {
		return fallback
	}
	return strings.Join(list, sep)
}
