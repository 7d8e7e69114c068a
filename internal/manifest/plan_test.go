package manifest

import (
	"reflect"
	"testing"
)

func pkgs() []Package {
	return []Package{
		{From: "1.0.0", To: "1.1.0", Size: 1000},
		{From: "1.1.0", To: "1.2.0", Size: 500},
		{From: "", To: "1.2.0", Size: 50000},
		{From: "1.0.0", To: "1.2.0", Size: 1400},
	}
}

func TestPlanPicksCheapestChain(t *testing.T) {
	chain, err := Plan("1.0.0", "1.2.0", pkgs())
	if err != nil {
		t.Fatal(err)
	}
	// Direct 1.0.0->1.2.0 patch (1400) beats 1.0.0->1.1.0->1.2.0 (1500)
	// and the standalone complete package (50000).
	if len(chain) != 1 || chain[0].DataName() != "patch1.0.0_1.2.0" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestPlanChainsIntermediateVersions(t *testing.T) {
	packages := []Package{
		{From: "1.0.0", To: "1.1.0", Size: 1000},
		{From: "1.1.0", To: "1.2.0", Size: 500},
	}
	chain, err := Plan("1.0.0", "1.2.0", packages)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 || chain[0].To != "1.1.0" || chain[1].To != "1.2.0" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestPlanFallsBackToStandalonePackage(t *testing.T) {
	packages := []Package{
		{From: "", To: "2.0.0", Size: 9000},
	}
	// Version 0.9.0 has no patch route; the free edge to the empty version
	// makes the complete package reachable.
	chain, err := Plan("0.9.0", "2.0.0", packages)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 1 || chain[0].DataName() != "complete_2.0.0" {
		t.Fatalf("expected standalone package, got %+v", chain)
	}
}

func TestPlanNoPath(t *testing.T) {
	packages := []Package{
		{From: "1.0.0", To: "1.1.0", Size: 10},
	}
	_, err := Plan("1.1.0", "1.0.0", packages)
	var npe *NoPathError
	if err == nil {
		t.Fatal("downgrade without packages should fail")
	}
	if !asNoPath(err, &npe) {
		t.Fatalf("expected NoPathError, got %T %v", err, err)
	}
	if npe.From != "1.1.0" || npe.To != "1.0.0" {
		t.Fatalf("unexpected error detail: %+v", npe)
	}
}

func TestPlanAlreadyAtGoal(t *testing.T) {
	chain, err := Plan("1.2.0", "1.2.0", pkgs())
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 0 {
		t.Fatalf("expected empty plan, got %+v", chain)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	// Two routes with identical total cost; the plan must not flap.
	packages := []Package{
		{From: "a", To: "m1", Size: 10},
		{From: "m1", To: "z", Size: 10},
		{From: "a", To: "m2", Size: 10},
		{From: "m2", To: "z", Size: 10},
	}
	first, err := Plan("a", "z", packages)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := Plan("a", "z", packages)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("plan flapped: %+v vs %+v", first, again)
		}
	}
}

func asNoPath(err error, target **NoPathError) bool {
	e, ok := err.(*NoPathError)
	if ok {
		*target = e
	}
	return ok
}
