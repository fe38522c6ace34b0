package vm

import "fmt"

// State is a thread's place in the machine-wide state protocol.
type State int32

const (
	NoState State = iota
	ActiveState
	IdleState
	ExclusiveState
	ZombieState
	ExitState
	JoinedState
)

var stateNames = [...]string{"no", "active", "idle", "exclusive", "zombie", "exit", "joined"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Enter moves t to state s under the machine's state lock.
//
// Exclusive is the stop-the-world state: the caller waits for any other
// exclusive holder, then for every other thread to leave ActiveState.
// Idle and Zombie give up activity (Zombie for good). Active waits until no
// other thread is exclusive. Exit waits until t is the last live thread.
// A thread in ExitState stays there.
func (t *Thread) Enter(s State) {
	if s == t.State() || t.State() == ExitState {
		return
	}

	m := t.m
	m.stateLock.Acquire(t)
	defer m.stateLock.Release(t)
	t.enterLocked(s)
}

func (t *Thread) enterLocked(s State) {
	m := t.m
	if s == t.State() || t.State() == ExitState {
		return
	}

	switch s {
	case ExclusiveState:
		t.expect(t.State() == ActiveState, "enter exclusive from %v", t.State())

		for m.exclusive.Load() != nil {
			// Another thread got here first.
			t.enterLocked(IdleState)
			t.enterLocked(ActiveState)
		}

		t.setState(ExclusiveState)
		m.exclusive.Store(t)

		for m.activeCount > 1 {
			m.stateLock.Wait(t)
		}

	case IdleState, ZombieState:
		switch t.State() {
		case ExclusiveState:
			t.expect(m.exclusive.Load() == t, "exclusive holder mismatch")
			m.exclusive.Store(nil)
		case ActiveState:
		default:
			t.expect(false, "enter %v from %v", s, t.State())
		}

		t.expect(m.activeCount > 0, "active count underflow")
		m.activeCount--

		if s == ZombieState {
			t.expect(m.liveCount > 0, "live count underflow")
			m.liveCount--
		}
		t.setState(s)

		m.stateLock.NotifyAll(t)

	case ActiveState:
		switch t.State() {
		case ExclusiveState:
			t.expect(m.exclusive.Load() == t, "exclusive holder mismatch")

			t.setState(s)
			m.exclusive.Store(nil)

			m.stateLock.NotifyAll(t)

		case NoState, IdleState:
			for m.exclusive.Load() != nil {
				m.stateLock.Wait(t)
			}

			m.activeCount++
			if t.State() == NoState {
				m.liveCount++
			}
			t.setState(s)

		default:
			t.expect(false, "enter active from %v", t.State())
		}

	case ExitState:
		switch t.State() {
		case ExclusiveState:
			t.expect(m.exclusive.Load() == t, "exclusive holder mismatch")
			m.exclusive.Store(nil)
		case ActiveState:
		default:
			t.expect(false, "enter exit from %v", t.State())
		}

		t.expect(m.activeCount > 0, "active count underflow")
		m.activeCount--

		t.setState(s)

		for m.liveCount > 1 {
			m.stateLock.Wait(t)
		}

	default:
		t.expect(false, "enter %v", s)
	}
}

// with runs fn in state s and then returns t to the state it was in.
func (t *Thread) with(s State, fn func()) {
	old := t.State()
	t.Enter(s)
	defer t.Enter(old)
	fn()
}

// Blocking runs fn with t idle, so that other threads can collect while fn
// waits. fn must not touch the heap.
func (t *Thread) Blocking(fn func()) { t.with(IdleState, fn) }

// Exit ends t. The last live thread shuts the machine down; any other
// thread becomes a zombie to be joined and disposed by a later collection.
func (t *Thread) Exit() {
	if s := t.State(); s == ExitState || s == ZombieState {
		return
	}

	m := t.m
	m.stateLock.Acquire(t)
	t.enterLocked(ExclusiveState)
	last := m.liveCount == 1
	if !last {
		t.enterLocked(ZombieState)
	}
	m.stateLock.Release(t)

	if last {
		m.exit(t)
	}
}

// exit shuts the machine down from t: wait for every other live thread,
// join them, run every registered finalizer regardless of reachability, and
// dispose of the thread tree.
func (m *Machine) exit(t *Thread) {
	t.Enter(ExitState)

	m.stateLock.Acquire(t)
	root := m.rootThread
	m.stateLock.Release(t)
	for o := root; o != nil; o = o.peer {
		joinAll(t, o)
	}

	for m.finalizers != nil {
		f := m.finalizers
		m.finalizers = f.next
		f.finalize(t, f.target)
	}
	for m.tenuredFinalizers != nil {
		f := m.tenuredFinalizers
		m.tenuredFinalizers = f.next
		f.finalize(t, f.target)
	}

	for o := root; o != nil; {
		next := o.peer
		disposeAll(t, o)
		o = next
	}
	log.Infof("machine exited")
	close(m.exited)
}
