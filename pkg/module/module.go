// Package module implements the module registry: named, versioned
// bundles of components, systems, and commands that a container loads
// to define what a match can do. Permission declarations on
// components gate which systems may read or write them.
package module

import (
	"fmt"
	"sort"
	"sync"

	"github.com/simhost/platform/pkg/apierrors"
	"github.com/simhost/platform/pkg/ecs"
)

// Permission is the access level a system declares against a
// component. WRITE implies READ; OWNER implies WRITE and is exclusive
// to one system per component within a module.
type Permission string

const (
	Private Permission = "PRIVATE"
	Read    Permission = "READ"
	Write   Permission = "WRITE"
	Owner   Permission = "OWNER"
)

func (p Permission) allows(requested Permission) bool {
	rank := map[Permission]int{Private: 0, Read: 1, Write: 2, Owner: 3}
	if requested == Read {
		return rank[p] >= rank[Read]
	}
	return rank[p] >= rank[requested]
}

// ComponentDecl declares a component a module exposes and the default
// permission granted to systems that don't own it.
type ComponentDecl struct {
	Name    ecs.ComponentName
	Default Permission
}

// View is a permission-scoped window onto a match's component store,
// handed to a system or command in place of the raw store. Grants is
// the declaring system/command's own resolved grant map (already
// checked against the owning module's declared permission at install
// time), so a read or write outside those grants is denied here
// rather than merely left undeclared: reads of an ungranted or PRIVATE
// component return (0, false); writes are silently dropped.
type View struct {
	store  *ecs.Store
	grants map[ecs.ComponentName]Permission
}

// NewView wraps store with grants. Used by the container tick loop to
// scope each system/command call, and directly by tests exercising a
// module's systems/commands in isolation.
func NewView(store *ecs.Store, grants map[ecs.ComponentName]Permission) *View {
	return &View{store: store, grants: grants}
}

func (v *View) Get(e ecs.EntityID, c ecs.ComponentName) (float32, bool) {
	if !v.grants[c].allows(Read) {
		return 0, false
	}
	return v.store.Get(e, c)
}

func (v *View) Has(e ecs.EntityID, c ecs.ComponentName) bool {
	if !v.grants[c].allows(Read) {
		return false
	}
	return v.store.Has(e, c)
}

func (v *View) Set(e ecs.EntityID, c ecs.ComponentName, val float32) {
	if !v.grants[c].allows(Write) {
		return
	}
	v.store.Set(e, c, val)
}

func (v *View) Remove(e ecs.EntityID, c ecs.ComponentName) {
	if !v.grants[c].allows(Write) {
		return
	}
	v.store.Remove(e, c)
}

// Query filters to entities carrying every required component, and
// returns nil if any required component isn't readable under grants.
func (v *View) Query(required ...ecs.ComponentName) []ecs.EntityID {
	for _, c := range required {
		if !v.grants[c].allows(Read) {
			return nil
		}
	}
	return v.store.Query(required...)
}

// Destroy queues an entity for removal in the container's next
// cleanup pass, rather than deleting it mid-tick.
func (v *View) Destroy(e ecs.EntityID) {
	v.store.QueueDestroy(e)
}

// SystemDecl declares a system's tick function plus the permissions it
// requires per component.
type SystemDecl struct {
	Name   string
	Grants map[ecs.ComponentName]Permission
	Tick   func(view *View) error
}

// CommandDecl declares a command a module accepts from players, plus
// the permission it needs to execute.
type CommandDecl struct {
	Name    string
	Grants  map[ecs.ComponentName]Permission
	Execute func(view *View, entity ecs.EntityID, args map[string]float32) error
}

// Module is a named, versioned bundle of components, systems, and
// commands. FlagComponent, if set, marks entities as "managed by this
// module"; disabling the module queues that component's removal from
// every entity that carries it.
type Module struct {
	Name          string
	Version       string
	FlagComponent ecs.ComponentName
	Components    []ComponentDecl
	Systems       []SystemDecl
	Commands      []CommandDecl
}

// Validate checks that every system and command grant is permitted by
// the component's declared default, and that at most one system
// claims OWNER per component.
func (m *Module) Validate() error {
	return m.validate(false)
}

// validate implements Validate. With external set, a grant on a
// component m does not declare is skipped instead of rejected; Install
// checks such grants against the declaring module.
func (m *Module) validate(external bool) error {
	declared := make(map[ecs.ComponentName]Permission, len(m.Components))
	for _, c := range m.Components {
		declared[c.Name] = c.Default
	}

	owners := make(map[ecs.ComponentName]string)
	checkGrants := func(source string, isSystem bool, grants map[ecs.ComponentName]Permission) error {
		for comp, want := range grants {
			def, ok := declared[comp]
			if !ok {
				if external {
					continue
				}
				return fmt.Errorf("module %s: %s references undeclared component %s", m.Name, source, comp)
			}
			if want == Owner {
				if !isSystem {
					continue
				}
				if existing, taken := owners[comp]; taken && existing != source {
					return fmt.Errorf("module %s: component %s already owned by %s, %s also claims OWNER", m.Name, comp, existing, source)
				}
				owners[comp] = source
				continue
			}
			if !def.allows(want) {
				return fmt.Errorf("module %s: %s requests %s on %s but default grant is %s", m.Name, source, want, comp, def)
			}
		}
		return nil
	}

	for _, s := range m.Systems {
		if err := checkGrants("system "+s.Name, true, s.Grants); err != nil {
			return err
		}
	}
	for _, c := range m.Commands {
		if err := checkGrants("command "+c.Name, false, c.Grants); err != nil {
			return err
		}
	}
	return nil
}

// Description is the introspection view returned by Describe.
type Description struct {
	Name       string
	Version    string
	Components []ComponentDecl
	Systems    []string
	Commands   []string
}

// componentOwner records which installed module declared a component
// and the permission level it granted external accessors.
type componentOwner struct {
	module  string
	granted Permission
}

// Registry holds every module loaded into a single container and
// resolves command/system lookups by name. It also enforces the
// cross-module rules a single Module.Validate() can't see on its
// own: command-name uniqueness across modules, and component access
// permission against the module that actually declared the component.
type Registry struct {
	mu              sync.RWMutex
	order           []string // module registration order, for deterministic tick execution
	modules         map[string]*Module
	commandOwners   map[string]string
	componentOwners map[ecs.ComponentName]componentOwner
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules:         make(map[string]*Module),
		commandOwners:   make(map[string]string),
		componentOwners: make(map[ecs.ComponentName]componentOwner),
	}
}

// Install validates m against its own declared components, then
// against every other installed module's components and commands,
// and adds it to the registry. Installing a module with a name
// already present replaces it in place (its registration order is
// preserved).
//
// A command name already claimed by a different installed module
// fails with KindConflict (MODULE_CONFLICT). A grant on a component
// declared by a different module fails with KindPermissionDeny when
// that module's declared default doesn't allow the requested access,
// or when the grant requests OWNER on a component it doesn't own.
func (r *Registry) Install(m *Module) error {
	if err := m.validate(true); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	own := make(map[ecs.ComponentName]struct{}, len(m.Components))
	for _, c := range m.Components {
		own[c.Name] = struct{}{}
	}

	checkExternal := func(source string, grants map[ecs.ComponentName]Permission) error {
		for comp, want := range grants {
			if _, isOwn := own[comp]; isOwn {
				continue // checked by m.Validate() against m's own declaration
			}
			owner, ok := r.componentOwners[comp]
			if !ok {
				return apierrors.New(apierrors.KindInvalidArg, fmt.Sprintf("module %s: %s references component %s declared by no installed module", m.Name, source, comp), nil)
			}
			if want == Owner {
				return apierrors.New(apierrors.KindPermissionDeny, fmt.Sprintf("module %s: %s cannot claim OWNER on %s, owned by module %s", m.Name, source, comp, owner.module), nil)
			}
			if !owner.granted.allows(want) {
				return apierrors.New(apierrors.KindPermissionDeny, fmt.Sprintf("module %s: %s requests %s on %s but module %s grants only %s", m.Name, source, want, comp, owner.module, owner.granted), nil)
			}
		}
		return nil
	}
	for _, s := range m.Systems {
		if err := checkExternal("system "+s.Name, s.Grants); err != nil {
			return err
		}
	}
	for _, c := range m.Commands {
		if err := checkExternal("command "+c.Name, c.Grants); err != nil {
			return err
		}
	}

	for _, c := range m.Commands {
		if owner, taken := r.commandOwners[c.Name]; taken && owner != m.Name {
			return apierrors.New(apierrors.KindConflict, fmt.Sprintf("command %s already registered by module %s (MODULE_CONFLICT)", c.Name, owner), nil)
		}
	}
	for _, c := range m.Components {
		if owner, taken := r.componentOwners[c.Name]; taken && owner.module != m.Name {
			return apierrors.New(apierrors.KindConflict, fmt.Sprintf("component %s already declared by module %s (MODULE_CONFLICT)", c.Name, owner.module), nil)
		}
	}

	if _, exists := r.modules[m.Name]; !exists {
		r.order = append(r.order, m.Name)
	}
	r.modules[m.Name] = m
	for _, c := range m.Commands {
		r.commandOwners[c.Name] = m.Name
	}
	for _, c := range m.Components {
		r.componentOwners[c.Name] = componentOwner{module: m.Name, granted: c.Default}
	}
	return nil
}

// Uninstall removes a module by name and reports its flag component
// (empty if it declared none) so the caller can queue that
// component's removal from every entity carrying it.
func (r *Registry) Uninstall(name string) (ecs.ComponentName, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[name]
	if !ok {
		return "", false
	}
	delete(r.modules, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for _, c := range m.Commands {
		delete(r.commandOwners, c.Name)
	}
	for _, c := range m.Components {
		delete(r.componentOwners, c.Name)
	}
	return m.FlagComponent, true
}

// ListInstalled returns the names of every installed module, sorted.
func (r *Registry) ListInstalled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe returns the introspection view of one installed module.
func (r *Registry) Describe(name string) (Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return Description{}, false
	}
	d := Description{Name: m.Name, Version: m.Version, Components: m.Components}
	for _, s := range m.Systems {
		d.Systems = append(d.Systems, s.Name)
	}
	for _, c := range m.Commands {
		d.Commands = append(d.Commands, c.Name)
	}
	return d, true
}

// Command looks up a command by module and command name.
func (r *Registry) Command(module, command string) (*CommandDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[module]
	if !ok {
		return nil, false
	}
	for i := range m.Commands {
		if m.Commands[i].Name == command {
			return &m.Commands[i], true
		}
	}
	return nil, false
}

// Visible reports whether comp is readable by an external client (a
// player viewing a filtered snapshot, not a module system or
// command), per the default permission its declaring module granted.
// A component declared by no installed module, or granted only
// PRIVATE/OWNER access, is not visible.
func (r *Registry) Visible(comp ecs.ComponentName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.componentOwners[comp]
	if !ok {
		return false
	}
	return owner.granted == Read || owner.granted == Write
}

// Systems returns every system across every installed module, in
// module registration order and then system registration order
// within each module, for deterministic tick execution.
func (r *Registry) Systems() []SystemDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SystemDecl
	for _, name := range r.order {
		out = append(out, r.modules[name].Systems...)
	}
	return out
}
