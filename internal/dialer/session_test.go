package dialer

import (
	"errors"
	"sync"
	"testing"

	"outbound-dialer/internal/calls"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contacts(ids ...string) []calls.Contact {
	out := make([]calls.Contact, 0, len(ids))
	for i, id := range ids {
		out = append(out, calls.Contact{ID: id, PhoneNumber: "+1555000000" + string(rune('0'+i%10)), Status: "new"})
	}
	return out
}

func TestStart_EmptyQueue(t *testing.T) {
	s, first, err := Start(nil)
	require.ErrorIs(t, err, ErrEmptyQueue)
	assert.False(t, s.Active())
	assert.Empty(t, first.ID)
	select {
	case <-s.Done():
	default:
		t.Fatal("expected done to be closed")
	}
	_, ok := s.AdvanceToNext()
	assert.False(t, ok)
}

func TestSession_WalksSnapshotOnce(t *testing.T) {
	s, first, err := Start(contacts("A", "B", "C"))
	require.NoError(t, err)
	assert.Equal(t, "A", first.ID)

	next, ok := s.AdvanceToNext()
	require.True(t, ok)
	assert.Equal(t, "B", next.ID)
	next, ok = s.Skip()
	require.True(t, ok)
	assert.Equal(t, "C", next.ID)

	_, ok = s.AdvanceToNext()
	assert.False(t, ok)
	assert.False(t, s.Active())
	assert.Equal(t, Progress{Index: 2, Len: 3, Completed: 3, Active: false}, s.Progress())

	// exhausted sessions stay put
	_, ok = s.AdvanceToNext()
	assert.False(t, ok)
	assert.False(t, s.Stop())
}

// Scenario: dispose A, remove A and B from the live list, dispose B; C is next.
func TestSession_SnapshotIgnoresLiveMutation(t *testing.T) {
	live := contacts("A", "B", "C")
	s, _, err := Start(live)
	require.NoError(t, err)

	next, _, err := s.AdvanceFrom("A", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", next.ID)

	live = live[2:]
	live[0].Status = "called"

	next, ok, err := s.AdvanceFrom("B", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "C", next.ID)
	assert.Equal(t, []string{"A", "B", "C"}, ids(s.Snapshot().Contacts()))
}

func TestSession_SnapshotStabilityUnderArbitraryMutation(t *testing.T) {
	live := contacts("A", "B", "C", "D", "E", "F")
	want := ids(live)
	s, first, err := Start(live)
	require.NoError(t, err)

	dialed := []string{first.ID}
	for i := 0; ; i++ {
		// scramble the live list between every advance
		for j := range live {
			live[j] = calls.Contact{ID: "x" + string(rune('a'+(i+j)%26))}
		}
		live = append(live[:0], live[len(live)/2:]...)

		next, ok := s.AdvanceToNext()
		if !ok {
			break
		}
		dialed = append(dialed, next.ID)
	}
	assert.Equal(t, want, dialed)
}

func TestBuildSnapshot_Eligibility(t *testing.T) {
	live := contacts("A", "B", "C")
	live[1].Status = "do_not_call"
	snap := BuildSnapshot(live, StatusIn("new"))
	assert.Equal(t, []string{"A", "C"}, ids(snap.Contacts()))

	live[0].ID = "Z"
	assert.Equal(t, []string{"A", "C"}, ids(snap.Contacts()))
	assert.Equal(t, 3, BuildSnapshot(live, nil).Len())
}

func TestSession_AdvanceFromIsStaleSafe(t *testing.T) {
	s, _, err := Start(contacts("A", "B", "C"))
	require.NoError(t, err)

	_, _, err = s.AdvanceFrom("A", nil)
	require.NoError(t, err)
	// a second save-triggered advance for A is ignored
	cur, ok, err := s.AdvanceFrom("A", nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", cur.ID)
	assert.Equal(t, 1, s.Progress().Index)
}

func TestSession_BeforeErrorCancelsAdvance(t *testing.T) {
	s, _, err := Start(contacts("A", "B"))
	require.NoError(t, err)
	boom := errors.New("save failed")

	cur, ok, err := s.AdvanceFrom("A", func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.True(t, ok)
	assert.Equal(t, "A", cur.ID)
	assert.False(t, s.Completed("A"))
}

func TestSession_ReentrantAdvanceIsNoop(t *testing.T) {
	s, _, err := Start(contacts("A", "B", "C"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = s.AdvanceFrom("A", func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	// skip click while the disposition save is in flight
	cur, ok := s.Skip()
	require.True(t, ok)
	assert.Equal(t, "A", cur.ID)

	close(release)
	<-done
	assert.Equal(t, 1, s.Progress().Index)
}

func TestSession_AdvanceReportsWhetherItMoved(t *testing.T) {
	s, _, err := Start(contacts("A", "B"))
	require.NoError(t, err)

	_, _, moved, err := s.advance("B", nil)
	require.NoError(t, err)
	assert.False(t, moved, "stale contact")

	next, ok, moved, err := s.advance("A", nil)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.True(t, ok)
	assert.Equal(t, "B", next.ID)

	_, ok, moved, err = s.advance("B", nil)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.False(t, ok, "last contact ends the session")

	_, _, moved, _ = s.advance("", nil)
	assert.False(t, moved)
}

func TestSession_ConcurrentAdvanceMovesOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		s, _, err := Start(contacts("A", "B", "C"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = s.AdvanceFrom("A", nil)
			}()
		}
		wg.Wait()
		require.Equal(t, 1, s.Progress().Index)
	}
}

func TestSession_StopOnce(t *testing.T) {
	s, _, err := Start(contacts("A", "B"))
	require.NoError(t, err)
	assert.True(t, s.Stop())
	assert.False(t, s.Stop())
	_, ok := s.Current()
	assert.False(t, ok)
	_, ok = s.AdvanceToNext()
	assert.False(t, ok)
}

func ids(cs []calls.Contact) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
