package domain

import "testing"

func TestEquipment_Validate(t *testing.T) {
	e := &Equipment{Name: "  MRI ", SerialNumber: " SN-1 "}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if e.Name != "MRI" || e.SerialNumber != "SN-1" || e.Status != StatusOperational {
		t.Errorf("normalized = %+v", e)
	}
	if err := (&Equipment{SerialNumber: "x"}).Validate(); err == nil {
		t.Error("missing name should fail")
	}
	if err := (&Equipment{Name: "x"}).Validate(); err == nil {
		t.Error("missing serial should fail")
	}
	if err := (&Equipment{Name: "x", SerialNumber: "y", Status: "broken"}).Validate(); err == nil {
		t.Error("unknown status should fail")
	}
}

func TestEquipment_Serviceable(t *testing.T) {
	if (&Equipment{Status: StatusRetired}).Serviceable() {
		t.Error("retired equipment is not serviceable")
	}
	if !(&Equipment{Status: StatusNeedsService}).Serviceable() {
		t.Error("needs_service equipment is serviceable")
	}
}
