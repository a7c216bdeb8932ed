package outcome

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	dbConn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := dbConn.AutoMigrate(&UserOutcome{}, &UserIntegration{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return dbConn
}

func validInput() CreateInput {
	return CreateInput{
		UserID:             "user-1",
		Direction:          DirectionLaunch,
		ObjectText:         "the mobile app",
		MetricText:         "weekly active users",
		DailyCapacityHours: 4,
	}
}

func TestActivate_AssemblesText(t *testing.T) {
	svc := NewService(setupDB(t))
	o, err := svc.Activate(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if o.AssembledText != "launch the mobile app measured by weekly active users" {
		t.Errorf("unexpected assembled text: %q", o.AssembledText)
	}
	if !o.IsActive {
		t.Error("new outcome must be active")
	}
}

func TestActivate_ReplacesPriorAtomically(t *testing.T) {
	svc := NewService(setupDB(t))
	ctx := context.Background()

	first, err := svc.Activate(ctx, validInput())
	if err != nil {
		t.Fatalf("first Activate failed: %v", err)
	}
	in := validInput()
	in.ObjectText = "paid plans"
	in.Direction = DirectionShip
	second, err := svc.Activate(ctx, in)
	if err != nil {
		t.Fatalf("second Activate failed: %v", err)
	}

	active, err := svc.GetActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active outcome should be the new one")
	}
	old, err := svc.Get(ctx, first.ID, "user-1")
	if err != nil {
		t.Fatalf("Get prior failed: %v", err)
	}
	if old.IsActive {
		t.Error("prior outcome must be deactivated")
	}
}

func TestActivate_BoundaryLengths(t *testing.T) {
	svc := NewService(setupDB(t))
	ctx := context.Background()

	in := validInput()
	in.ObjectText = ""
	if _, err := svc.Activate(ctx, in); err != nil {
		t.Errorf("empty object_text should be accepted: %v", err)
	}

	in = validInput()
	in.ObjectText = strings.Repeat("a", 500)
	if _, err := svc.Activate(ctx, in); err != nil {
		t.Errorf("500-char object_text should be accepted: %v", err)
	}

	in = validInput()
	in.Clarifier = strings.Repeat("b", 501)
	if _, err := svc.Activate(ctx, in); err == nil {
		t.Error("501-char clarifier must be rejected")
	}
}

func TestActivate_RejectsUnknownDirection(t *testing.T) {
	svc := NewService(setupDB(t))
	in := validInput()
	in.Direction = Direction("explode")
	if _, err := svc.Activate(context.Background(), in); err == nil {
		t.Error("unknown direction must be rejected")
	}
}

func TestGet_EnforcesOwnership(t *testing.T) {
	svc := NewService(setupDB(t))
	ctx := context.Background()
	o, err := svc.Activate(ctx, validInput())
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if _, err := svc.Get(ctx, o.ID, "intruder"); err == nil {
		t.Error("expected permission error for foreign user")
	}
}
