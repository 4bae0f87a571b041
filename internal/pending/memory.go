package pending

// MemoryBackend keeps actions in process memory. It is lost on restart.
type MemoryBackend struct {
	actions map[string]Action
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{actions: make(map[string]Action)}
}

// Put implements Backend.
func (m *MemoryBackend) Put(a Action) error {
	m.actions[a.Session] = a
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(session string) (Action, bool, error) {
	a, ok := m.actions[session]
	return a, ok, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(session string) error {
	delete(m.actions, session)
	return nil
}

// List implements Backend.
func (m *MemoryBackend) List() ([]Action, error) {
	out := make([]Action, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, a)
	}
	return out, nil
}
