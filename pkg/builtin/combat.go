// Package builtin provides modules a container can install out of the
// box, so a container created without a custom module upload still has
// a real, working one to run.
package builtin

import (
	"github.com/simhost/platform/pkg/ecs"
	"github.com/simhost/platform/pkg/module"
)

const (
	componentHP ecs.ComponentName = "hp"
)

// Combat is a minimal module with a single owned component ("hp"), one
// player command ("attack") that damages a target entity on the spot,
// and one system ("regen") that slowly restores health each tick.
func Combat() *module.Module {
	return &module.Module{
		Name:          "combat",
		Version:       "1.0.0",
		FlagComponent: componentHP,
		Components: []module.ComponentDecl{
			{Name: componentHP, Default: module.Owner},
		},
		Systems: []module.SystemDecl{
			{
				Name:   "regen",
				Grants: map[ecs.ComponentName]module.Permission{componentHP: module.Owner},
				Tick:   regenTick,
			},
		},
		Commands: []module.CommandDecl{
			{
				Name:    "attack",
				Grants:  map[ecs.ComponentName]module.Permission{componentHP: module.Owner},
				Execute: attackExecute,
			},
		},
	}
}

const (
	maxHP           float32 = 100
	regenPerTick    float32 = 1
	defaultDamage   float32 = 10
	argTargetEntity         = "target"
	argAmount               = "amount"
)

func regenTick(view *module.View) error {
	for _, e := range view.Query(componentHP) {
		hp, _ := view.Get(e, componentHP)
		if hp <= 0 || hp >= maxHP {
			continue
		}
		next := hp + regenPerTick
		if next > maxHP {
			next = maxHP
		}
		view.Set(e, componentHP, next)
	}
	return nil
}

// attackExecute damages args["target"] by args["amount"] (defaultDamage
// when unset), regardless of which entity issued the command — combat
// has no friendly-fire restriction. An attacker or target with no "hp"
// component yet starts at maxHP.
func attackExecute(view *module.View, entity ecs.EntityID, args map[string]float32) error {
	if !view.Has(entity, componentHP) {
		view.Set(entity, componentHP, maxHP)
	}

	target := entity
	if t, ok := args[argTargetEntity]; ok {
		target = ecs.EntityID(t)
	}
	if !view.Has(target, componentHP) {
		view.Set(target, componentHP, maxHP)
	}

	amount := defaultDamage
	if a, ok := args[argAmount]; ok {
		amount = a
	}

	hp, _ := view.Get(target, componentHP)
	hp -= amount
	if hp < 0 {
		hp = 0
	}
	view.Set(target, componentHP, hp)
	return nil
}
