package browser

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/librarian/internal/failure"
	"github.com/fruitsalade/librarian/internal/navigation"
	"github.com/fruitsalade/librarian/internal/notify"
	"github.com/fruitsalade/librarian/pkg/models"
)

func TestMoveDirectSuccess(t *testing.T) {
	f := newFake()
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})
	s.Expand(context.Background(), models.LibraryID("l1"))

	report, err := s.Move(context.Background(), models.FolderID("f1"))
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if report.Outcome != OutcomeMoved {
		t.Errorf("outcome = %s, want %s", report.Outcome, OutcomeMoved)
	}
	if report.Reconciled.Landed != models.FolderID("f1") || report.Reconciled.FellBack {
		t.Errorf("reconciled = %+v, want landed on f1", report.Reconciled)
	}
	lib, folder := s.Current()
	if lib != models.LibraryID("l1") || folder != models.FolderID("f1") {
		t.Errorf("current = %v/%v", lib, folder)
	}
	if s.Navigation().Phase() != navigation.ViewingNested {
		t.Errorf("phase = %s", s.Navigation().Phase())
	}
	if n, _ := rec.Last(); n.Title != "Files Moved Successfully" || n.Message != "1 files moved to destination successfully." {
		t.Errorf("last notification = %+v", n)
	}
	if got := s.Navigation().Selected(); len(got) != 0 {
		t.Errorf("selection not cleared: %v", got)
	}
}

func TestMovePartialSuccessWarns(t *testing.T) {
	f := newFake()
	f.smart = func(ids []string, dest models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{
			Success: true, PartialSuccess: true, SuccessCount: 1,
			Errors: []string{`"Report" remains shared in Finance`},
		}, nil
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	report, err := s.Move(context.Background(), models.LibraryID("l2"))
	if failure.KindOf(err) != failure.KindPartial {
		t.Fatalf("err kind = %s, want partial", failure.KindOf(err))
	}
	if report.Outcome != OutcomeMovedWithNotes || report.Reconciled.Landed != models.LibraryID("l2") {
		t.Errorf("report = %+v", report)
	}
	n, _ := rec.Last()
	if n.Kind != notify.Warning || !strings.Contains(n.Message, "remains shared") {
		t.Errorf("notification = %+v", n)
	}
}

func TestTwoStepComplete(t *testing.T) {
	f := newFake()
	f.smart = twoStepTo()
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	report, err := s.Move(context.Background(), models.FolderID("f2"))
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if report.Outcome != OutcomeTwoStep {
		t.Fatalf("outcome = %s", report.Outcome)
	}
	if report.PhaseA == nil || report.PhaseB == nil {
		t.Fatal("both phases should be reported")
	}

	var order []string
	for _, c := range f.Calls() {
		if c == "smart" || c == "add" || c == "folder" {
			order = append(order, c)
		}
	}
	if strings.Join(order, ",") != "smart,add,folder" {
		t.Errorf("call order = %v", order)
	}

	titles := rec.Titles()
	if len(titles) != 2 || titles[0] != "Step 1 Complete" || titles[1] != "Two-Step Move Complete!" {
		t.Errorf("titles = %v", titles)
	}
	lib, folder := s.Current()
	if lib != models.LibraryID("l2") || folder != models.FolderID("f2") {
		t.Errorf("current = %v/%v, want l2/f2", lib, folder)
	}
	if !s.Tree().IsLoaded(models.LibraryID("l2")) {
		t.Error("l2 should be expanded after landing in f2")
	}
	if items := s.CurrentItems(); len(items) != 1 || items[0].ID != "doc-2" {
		t.Errorf("items = %v", items)
	}
}

func TestTwoStepPhaseAFailureSkipsPhaseB(t *testing.T) {
	f := newFake()
	f.smart = twoStepTo()
	f.add = func([]string, models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{Errors: []string{"permission denied"}}, nil
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})
	if _, err := s.Expand(context.Background(), models.LibraryID("l2")); err != nil {
		t.Fatal(err)
	}
	forestBefore := s.Tree().Forest()
	selectedBefore := s.Navigation().Selected()
	reloadsBefore := f.count("libraries")

	report, err := s.Move(context.Background(), models.FolderID("f2"))
	var pf *failure.ProtocolFailure
	if !errors.As(err, &pf) || pf.Phase != failure.PhaseAddToLibrary {
		t.Fatalf("err = %v, want add-to-library protocol failure", err)
	}
	if f.count("folder") != 0 {
		t.Error("Phase B must not run after Phase A failed")
	}
	if report.Outcome != OutcomeTwoStepFailed || report.PhaseB != nil {
		t.Errorf("report = %+v", report)
	}
	n, _ := rec.Last()
	if n.Title != "Two-Step Move Failed" || n.Message != "Library move failed: permission denied" {
		t.Errorf("notification = %+v", n)
	}
	if lib, folder := s.Current(); lib != models.LibraryID("l1") || !folder.IsZero() {
		t.Errorf("current = %v/%v, want unchanged l1", lib, folder)
	}
	if !reflect.DeepEqual(s.Tree().Forest(), forestBefore) {
		t.Errorf("forest changed:\nbefore %+v\nafter  %+v", forestBefore, s.Tree().Forest())
	}
	if got := s.Navigation().Selected(); !reflect.DeepEqual(got, selectedBefore) {
		t.Errorf("selection = %v, want %v", got, selectedBefore)
	}
	if n := f.count("libraries") - reloadsBefore; n != 0 {
		t.Errorf("libraries reloaded %d times", n)
	}
	if report.Reconciled != (Result{}) {
		t.Errorf("reconciled = %+v, want zero", report.Reconciled)
	}
}

func TestTwoStepPhaseBFailureLandsOnLibrary(t *testing.T) {
	f := newFake()
	f.smart = twoStepTo()
	f.add = func(ids []string, _ models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{Success: true, PartialSuccess: true, SuccessCount: len(ids)}, nil
	}
	f.toFolder = func([]string, models.ContainerID, models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{}, errBackend
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})
	if _, err := s.Expand(context.Background(), models.LibraryID("l2")); err != nil {
		t.Fatal(err)
	}
	forestBefore := s.Tree().Forest()
	selectedBefore := s.Navigation().Selected()
	reloadsBefore := f.count("libraries")
	_, _, _ = forestBefore, selectedBefore, reloadsBefore

	report, err := s.Move(context.Background(), models.FolderID("f2"))
	var pf *failure.ProtocolFailure
	if !errors.As(err, &pf) || pf.Phase != failure.PhaseMoveToFolder {
		t.Fatalf("err = %v, want move-to-folder protocol failure", err)
	}
	if report.Outcome != OutcomePartialOrg || report.Reconciled.Landed != models.LibraryID("l2") {
		t.Errorf("report = %+v", report)
	}

	all := rec.All()
	if len(all) != 2 {
		t.Fatalf("notifications = %v", rec.Titles())
	}
	if !strings.Contains(all[0].Message, "Some files remain shared") {
		t.Errorf("step 1 message = %q", all[0].Message)
	}
	if all[1].Kind != notify.Warning || !strings.Contains(all[1].Message, "Contracts") {
		t.Errorf("warning = %+v, should name the folder", all[1])
	}
	if lib, folder := s.Current(); lib != models.LibraryID("l2") || !folder.IsZero() {
		t.Errorf("current = %v/%v, want l2", lib, folder)
	}
}

func TestTwoStepDeclined(t *testing.T) {
	f := newFake()
	f.smart = twoStepTo()
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{
		Confirm: func(ctx context.Context, plan models.MoveResult) bool { return false },
	})

	report, err := s.Move(context.Background(), models.FolderID("f2"))
	if err != nil || report.Outcome != OutcomeDeclined {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
	if f.count("add") != 0 {
		t.Error("declined move should not add to library")
	}
}

func TestMoveRejectsMalformedTwoStep(t *testing.T) {
	f := newFake()
	f.smart = func([]string, models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{RequiresTwoStep: true, TargetLibraryID: models.LibraryID("l2")}, nil
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	_, err := s.Move(context.Background(), models.FolderID("f2"))
	if failure.KindOf(err) != failure.KindHard || !errors.Is(err, models.ErrMalformedTwoStep) {
		t.Fatalf("err = %v", err)
	}
	if f.count("add") != 0 {
		t.Error("malformed plan must not start Phase A")
	}
}

func TestMoveValidation(t *testing.T) {
	f := newFake()
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	if _, err := s.Move(context.Background(), models.ContainerID{}); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("zero destination: err = %v", err)
	}
	s.ClearSelection()
	if _, err := s.Move(context.Background(), models.LibraryID("l2")); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("empty selection: err = %v", err)
	}
	if f.count("smart") != 0 {
		t.Error("validation failures must not reach the backend")
	}
	if titles := rec.Titles(); len(titles) != 2 {
		t.Errorf("titles = %v", titles)
	}
}

func TestMoveHardFailure(t *testing.T) {
	f := newFake()
	f.smart = func([]string, models.ContainerID) (models.MoveResult, error) {
		return models.MoveResult{Errors: []string{"Target folder not found"}}, nil
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	report, err := s.Move(context.Background(), models.FolderID("f1"))
	if failure.KindOf(err) != failure.KindHard || report.Outcome != OutcomeFailed {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
	if n, _ := rec.Last(); n.Title != "Move Failed" || n.Message != "Target folder not found" {
		t.Errorf("notification = %+v", n)
	}
	if lib, _ := s.Current(); lib != models.LibraryID("l1") {
		t.Errorf("current = %v", lib)
	}
}

func TestOperationInProgress(t *testing.T) {
	f := newFake()
	release := make(chan struct{})
	started := make(chan struct{})
	f.smart = func(ids []string, _ models.ContainerID) (models.MoveResult, error) {
		close(started)
		<-release
		return models.MoveResult{Success: true, SuccessCount: len(ids)}, nil
	}
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Move(context.Background(), models.LibraryID("l2"))
		done <- err
	}()
	<-started

	if !s.Snapshot().Busy {
		t.Error("snapshot should report busy")
	}
	s.SelectItems("doc-1")
	if _, err := s.Move(context.Background(), models.LibraryID("l2")); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second move err = %v", err)
	}
	if _, err := s.Delete(context.Background()); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("delete during move err = %v", err)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("first move: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first move did not finish")
	}
	if s.Orchestrator().InProgress() {
		t.Error("guard should be released")
	}
}

func TestDeleteOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		res   models.DeleteResult
		err   error
		title string
		kind  failure.Kind
	}{
		{"all", models.DeleteResult{Success: true, SuccessCount: 2}, nil, "Success", failure.KindUnknown},
		{"partial", models.DeleteResult{SuccessCount: 1, Errors: []string{"doc-9: not found"}}, nil, "Partial Success", failure.KindPartial},
		{"none", models.DeleteResult{Errors: []string{"doc-9: not found"}}, nil, "Delete Failed", failure.KindHard},
		{"transport", models.DeleteResult{}, errBackend, "Delete Failed", failure.KindHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.del = func([]string) (models.DeleteResult, error) { return tt.res, tt.err }
			var rec notify.Recorder
			s := newTestSession(f, &rec, Options{})
			s.SelectItems("doc-1", "doc-9")

			_, err := s.Delete(context.Background())
			if got := failure.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s", got, tt.kind)
			}
			if n, _ := rec.Last(); n.Title != tt.title {
				t.Errorf("title = %q, want %q", n.Title, tt.title)
			}
			if len(s.Navigation().Selected()) != 0 {
				t.Error("selection should be cleared by the refresh")
			}
		})
	}
}

func TestPartialDeleteReportsFailuresAndRefreshes(t *testing.T) {
	f := newFake()
	f.items[models.LibraryID("l1")] = append(f.items[models.LibraryID("l1")], models.LeafItem{ID: "doc-3", Title: "Budget"})
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})
	s.SelectItems("doc-1", "doc-9")

	res, err := s.Delete(context.Background())
	if failure.KindOf(err) != failure.KindPartial {
		t.Fatalf("err = %v, want partial failure", err)
	}
	if res.Success || res.SuccessCount != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "doc-9") {
		t.Errorf("errors = %v, want only doc-9", res.Errors)
	}

	var ok, warn *notify.Notification
	for _, n := range rec.All() {
		switch n.Kind {
		case notify.Success:
			ok = &n
		case notify.Warning:
			warn = &n
		}
	}
	if ok == nil || ok.Message != "1 files deleted successfully" {
		t.Errorf("success notification = %+v", ok)
	}
	if warn == nil || !strings.Contains(warn.Message, "doc-9: not found") {
		t.Errorf("warning should list failed ids, got %+v", warn)
	}

	items := s.CurrentItems()
	if len(items) != 1 || items[0].ID != "doc-3" {
		t.Errorf("items after refresh = %+v, want only doc-3", items)
	}
}

func TestCreateFolder(t *testing.T) {
	f := newFake()
	var rec notify.Recorder
	s := newTestSession(f, &rec, Options{})

	if _, err := s.CreateFolder(context.Background(), "   "); failure.KindOf(err) != failure.KindValidation {
		t.Errorf("blank name err = %v", err)
	}
	if n, _ := rec.Last(); n.Message != "Folder name is required" {
		t.Errorf("notification = %+v", n)
	}

	c, err := s.CreateFolder(context.Background(), " Q3 ")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if c.Label != "Q3" {
		t.Errorf("label = %q", c.Label)
	}
	if _, ok := s.Tree().Lookup(c.ID); !ok {
		t.Error("new folder should be in the reloaded tree")
	}
	if lib, _ := s.Current(); lib != models.LibraryID("l1") {
		t.Errorf("current = %v", lib)
	}
}
