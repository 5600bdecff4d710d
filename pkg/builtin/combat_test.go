package builtin

import (
	"testing"

	"github.com/simhost/platform/pkg/ecs"
	"github.com/simhost/platform/pkg/module"
)

func TestCombatModuleValidates(t *testing.T) {
	if err := Combat().Validate(); err != nil {
		t.Fatalf("expected combat module to validate, got %v", err)
	}
}

func TestAttackDamagesTarget(t *testing.T) {
	store := ecs.New()
	m := Combat()

	cmd, ok := findCommand(m, "attack")
	if !ok {
		t.Fatal("expected attack command")
	}
	if err := cmd.Execute(module.NewView(store, cmd.Grants), 1, map[string]float32{argTargetEntity: 2, argAmount: 30}); err != nil {
		t.Fatalf("execute attack: %v", err)
	}
	hp, ok := store.Get(2, componentHP)
	if !ok {
		t.Fatal("expected target to have hp after being attacked")
	}
	if hp != maxHP-30 {
		t.Fatalf("expected hp %v, got %v", maxHP-30, hp)
	}
}

func TestAttackClampsAtZero(t *testing.T) {
	store := ecs.New()
	cmd, _ := findCommand(Combat(), "attack")
	store.Set(2, componentHP, 5)
	if err := cmd.Execute(module.NewView(store, cmd.Grants), 1, map[string]float32{argTargetEntity: 2, argAmount: 30}); err != nil {
		t.Fatalf("execute attack: %v", err)
	}
	hp, _ := store.Get(2, componentHP)
	if hp != 0 {
		t.Fatalf("expected hp clamped to 0, got %v", hp)
	}
}

func TestRegenTickRestoresHealthUpToMax(t *testing.T) {
	store := ecs.New()
	store.Set(1, componentHP, maxHP-5)
	sys, ok := findSystem(Combat(), "regen")
	if !ok {
		t.Fatal("expected regen system")
	}
	if err := sys.Tick(module.NewView(store, sys.Grants)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	hp, _ := store.Get(1, componentHP)
	if hp != maxHP-5+regenPerTick {
		t.Fatalf("expected hp %v, got %v", maxHP-5+regenPerTick, hp)
	}

	store.Set(1, componentHP, maxHP)
	if err := sys.Tick(module.NewView(store, sys.Grants)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	hp, _ = store.Get(1, componentHP)
	if hp != maxHP {
		t.Fatalf("expected hp to stay clamped at max, got %v", hp)
	}
}

func TestRegenSkipsDeadEntities(t *testing.T) {
	store := ecs.New()
	store.Set(1, componentHP, 0)
	sys, _ := findSystem(Combat(), "regen")
	if err := sys.Tick(module.NewView(store, sys.Grants)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	hp, _ := store.Get(1, componentHP)
	if hp != 0 {
		t.Fatalf("expected dead entity to stay at 0 hp, got %v", hp)
	}
}

func findCommand(m *module.Module, name string) (module.CommandDecl, bool) {
	for _, c := range m.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return module.CommandDecl{}, false
}

func findSystem(m *module.Module, name string) (module.SystemDecl, bool) {
	for _, s := range m.Systems {
		if s.Name == name {
			return s, true
		}
	}
	return module.SystemDecl{}, false
}
