package feed

import (
	"testing"
	"time"

	"github.com/quantfall/goxfeed/config"
)

func testThresholds() config.Thresholds {
	return config.Default().Thresholds
}

func TestTransitionBothDown(t *testing.T) {
	state, act := transition(liveness{}, testThresholds())
	if state != BothDown {
		t.Fatalf("state: got %v want %v", state, BothDown)
	}
	if act.restartPrimary || act.startBackup || act.stopBackup || act.refreshDepth {
		t.Fatalf("no actions expected: %+v", act)
	}
}

func TestTransitionHealthyPrimaryStopsBackup(t *testing.T) {
	obs := liveness{
		primaryRunning: true,
		primarySilence: 5 * time.Second,
		primaryConnAge: 10 * time.Minute,
		backupRunning:  true,
		backupState:    StateConnected,
	}
	state, act := transition(obs, testThresholds())
	if state != PrimaryHealthy {
		t.Fatalf("state: got %v want %v", state, PrimaryHealthy)
	}
	if !act.stopBackup {
		t.Fatal("backup should be stopped when the primary is healthy")
	}
	if act.restartPrimary || act.startBackup {
		t.Fatalf("unexpected actions: %+v", act)
	}
}

func TestTransitionHealthyPrimaryBackupIdle(t *testing.T) {
	obs := liveness{
		primaryRunning: true,
		primarySilence: time.Second,
	}
	state, act := transition(obs, testThresholds())
	if state != PrimaryHealthy {
		t.Fatalf("state: got %v want %v", state, PrimaryHealthy)
	}
	if act.stopBackup {
		t.Fatal("stopBackup with no backup running")
	}
}

func TestTransitionSilentPrimaryRestartsAndStartsBackup(t *testing.T) {
	th := testThresholds()
	obs := liveness{
		primaryRunning: true,
		primarySilence: th.PrimarySilence + time.Second,
		primaryConnAge: th.PrimarySilence + time.Minute,
	}
	state, act := transition(obs, th)
	if state != BackupActive {
		t.Fatalf("state: got %v want %v", state, BackupActive)
	}
	if !act.restartPrimary || !act.startBackup {
		t.Fatalf("restart and backup expected: %+v", act)
	}
}

func TestTransitionYoungConnectionGetsGracePeriod(t *testing.T) {
	th := testThresholds()
	obs := liveness{
		primaryRunning: true,
		primarySilence: th.PrimarySilence + time.Second,
		primaryConnAge: 5 * time.Second,
	}
	state, act := transition(obs, th)
	if act.restartPrimary {
		t.Fatal("fresh connection restarted before it could speak")
	}
	if state != PrimarySilent {
		t.Fatalf("state: got %v want %v", state, PrimarySilent)
	}
}

func TestTransitionBackupAlreadyRunningNotRestarted(t *testing.T) {
	th := testThresholds()
	obs := liveness{
		primaryRunning: true,
		primarySilence: th.PrimarySilence + time.Second,
		primaryConnAge: th.PrimarySilence + time.Minute,
		backupRunning:  true,
		backupState:    StateConnected,
	}
	state, act := transition(obs, th)
	if state != BackupActive {
		t.Fatalf("state: got %v want %v", state, BackupActive)
	}
	if act.startBackup {
		t.Fatal("backup started twice")
	}
	if !act.restartPrimary {
		t.Fatal("silent primary not restarted")
	}
}

func TestTransitionStaleSnapshotRefreshedWhileBackupDisconnected(t *testing.T) {
	th := testThresholds()
	obs := liveness{
		primaryRunning: true,
		primarySilence: th.PrimarySilence + time.Second,
		primaryConnAge: th.PrimarySilence + time.Minute,
		backupRunning:  true,
		backupState:    StateConnecting,
		snapshotAge:    th.BackupDepthRefresh + time.Second,
	}
	_, act := transition(obs, th)
	if !act.refreshDepth {
		t.Fatal("stale snapshot not refreshed")
	}
}

func TestTransitionConnectedBackupSuppressesRefresh(t *testing.T) {
	th := testThresholds()
	obs := liveness{
		primaryRunning: true,
		primarySilence: th.PrimarySilence + time.Second,
		primaryConnAge: th.PrimarySilence + time.Minute,
		backupRunning:  true,
		backupState:    StateConnected,
		snapshotAge:    th.BackupDepthRefresh + time.Second,
	}
	_, act := transition(obs, th)
	if act.refreshDepth {
		t.Fatal("refresh requested while the backup delivers depth")
	}
}
