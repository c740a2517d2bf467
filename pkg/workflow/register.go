package workflow

// LocationReference declares a named location and its initial value.
type LocationReference struct {
	Name    string `json:"name"`
	Default any    `json:"default,omitempty"`
}

// Location is a named memory slot owned by one register.
type Location struct {
	Name  string
	Value any
}

// Register is the set of locations declared by one execution scope. Lookups that miss
// fall back to the enclosing scope; that walk is done by the owning WorkflowExecutionContext
// through parent handles, so a register never references another register.
type Register struct {
	locations map[string]*Location
}

// NewRegister returns an empty register.
func NewRegister() *Register {
	return &Register{locations: make(map[string]*Location)}
}

// Declare adds a location for every reference. Redeclaring a name resets it to the new default.
func (r *Register) Declare(refs []LocationReference) {
	for _, ref := range refs {
		r.locations[ref.Name] = &Location{Name: ref.Name, Value: ref.Default}
	}
}

// Lookup returns the location declared in this register only.
func (r *Register) Lookup(name string) (*Location, bool) {
	loc, ok := r.locations[name]

	return loc, ok
}

// Set updates a declared location or declares it.
func (r *Register) Set(name string, value any) {
	if loc, ok := r.locations[name]; ok {
		loc.Value = value

		return
	}

	r.locations[name] = &Location{Name: name, Value: value}
}

// Len returns the number of declared locations.
func (r *Register) Len() int {
	return len(r.locations)
}

// Snapshot copies the current values.
func (r *Register) Snapshot() map[string]any {
	values := make(map[string]any, len(r.locations))
	for name, loc := range r.locations {
		values[name] = loc.Value
	}

	return values
}

// RegisterFromSnapshot rebuilds a register from Snapshot output.
func RegisterFromSnapshot(values map[string]any) *Register {
	r := NewRegister()
	for name, value := range values {
		r.locations[name] = &Location{Name: name, Value: value}
	}

	return r
}
