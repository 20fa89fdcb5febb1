package sync

import "testing"

func TestSyncState_StartRejectsOverlap(t *testing.T) {
	st := NewSyncState(nil)
	if !st.Start() {
		t.Fatal("first Start returned false")
	}
	if st.Start() {
		t.Error("second Start returned true while in progress")
	}
	st.Cancel(false)
	if st.InProgress() {
		t.Error("InProgress after Cancel")
	}
	if !st.Start() {
		t.Error("Start after Cancel returned false")
	}
}

func TestSyncState_StartResetsCounters(t *testing.T) {
	st := NewSyncState(nil)
	st.Start()
	st.AddUploaded(2)
	st.AddDownloaded(3)
	st.AddFailed(1)
	if got, want := st.Counters().String(), "2 uploaded, 3 downloaded, 1 failed"; got != want {
		t.Errorf("Counters = %q, want %q", got, want)
	}
	st.Cancel(true)

	st.Start()
	if c := st.Counters(); c != (Counters{}) {
		t.Errorf("Counters after Start = %+v, want zero", c)
	}
	if st.Cancelled() {
		t.Error("Cancelled after Start")
	}
	if st.Snapshot().ErrorState {
		t.Error("ErrorState survived Start")
	}
}

func TestSyncState_RequestCancelKeepsCycleRunning(t *testing.T) {
	st := NewSyncState(nil)
	st.Start()
	st.RequestCancel()
	if !st.Cancelled() {
		t.Error("Cancelled = false after RequestCancel")
	}
	if !st.InProgress() {
		t.Error("RequestCancel ended the cycle")
	}
}

func TestSyncState_SinkReceivesFinalSnapshot(t *testing.T) {
	sink := &mockSink{}
	st := NewSyncState(sink)
	st.Start()
	for range 50 {
		st.SetStatus("Downloading...")
	}
	st.AddDownloaded(4)
	st.SetStatus("Sync failed.")
	st.Cancel(true)
	st.Close()

	got, ok := sink.last()
	if !ok {
		t.Fatal("sink received nothing")
	}
	if got.Message != "Sync failed." || !got.ErrorState || got.InProgress {
		t.Errorf("last status = %+v", got)
	}
	if got.Counters.Downloaded != 4 {
		t.Errorf("Downloaded = %d, want 4", got.Counters.Downloaded)
	}

	// Close is idempotent.
	st.Close()
}

func TestSyncState_SetStatusClearsErrorState(t *testing.T) {
	st := NewSyncState(nil)
	st.Start()
	st.Cancel(true)
	st.SetStatus("Retrying")
	if snap := st.Snapshot(); snap.ErrorState || snap.Message != "Retrying" {
		t.Errorf("snapshot = %+v", snap)
	}
}
