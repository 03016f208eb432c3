package crokinole

import (
	"math"
	"testing"
)

func TestNewPandaModel(t *testing.T) {
	cfg := DefaultConfig()
	model, err := NewPandaModel(cfg)
	if err != nil {
		t.Fatalf("NewPandaModel failed: %v", err)
	}
	if model.DOF() != cfg.DOF {
		t.Fatalf("dof = %d, want %d", model.DOF(), cfg.DOF)
	}

	mm := model.MassMatrix()
	r, c := mm.Dims()
	if r != cfg.DOF || c != cfg.DOF {
		t.Fatalf("mass matrix dims = %dx%d", r, c)
	}
	for i := 0; i < cfg.DOF; i++ {
		if mm.At(i, i) <= 0 {
			t.Errorf("mass matrix diagonal %d = %v, want positive", i, mm.At(i, i))
		}
	}
}

func TestPandaModelUpdate(t *testing.T) {
	cfg := DefaultConfig()
	model, err := NewPandaModel(cfg)
	if err != nil {
		t.Fatalf("NewPandaModel failed: %v", err)
	}

	t.Run("rejects wrong dimensions", func(t *testing.T) {
		if err := model.Update([]float64{0, 0}, make([]float64, cfg.DOF)); err == nil {
			t.Error("expected error for short q")
		}
		if err := model.Update(make([]float64, cfg.DOF), []float64{0}); err == nil {
			t.Error("expected error for short dq")
		}
	})

	t.Run("kinematics at the ready posture", func(t *testing.T) {
		if err := model.Update(cfg.ReadyPosture, make([]float64, cfg.DOF)); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		// The workspace point must be within the arm's physical reach.
		pos := model.EEPosition()
		if reach := pos.Norm(); reach < 0.1 || reach > 1.3 {
			t.Errorf("end effector %.3f m from base, outside plausible reach", reach)
		}

		jr, jc := model.Jacobian().Dims()
		if jr != 6 || jc != cfg.DOF {
			t.Fatalf("jacobian dims = %dx%d, want 6x%d", jr, jc, cfg.DOF)
		}

		rot := model.EEOrientation()
		for i := 0; i < 3; i++ {
			var norm float64
			for j := 0; j < 3; j++ {
				norm += rot.At(i, j) * rot.At(i, j)
			}
			if math.Abs(norm-1) > 1e-6 {
				t.Errorf("orientation row %d norm^2 = %v, want 1", i, norm)
			}
		}

		if v := model.EEVelocity().Norm(); v > 1e-9 {
			t.Errorf("velocity at rest = %v, want 0", v)
		}
	})

	t.Run("stationary updates settle the accelerations", func(t *testing.T) {
		dq := make([]float64, cfg.DOF)
		if err := model.Update(cfg.ReadyPosture, dq); err != nil {
			t.Fatal(err)
		}
		if err := model.Update(cfg.ReadyPosture, dq); err != nil {
			t.Fatal(err)
		}
		if a := model.EEAcceleration().Norm(); a > 1e-9 {
			t.Errorf("acceleration for repeated posture = %v, want 0", a)
		}
		if a := model.AngularAcceleration().Norm(); a > 1e-9 {
			t.Errorf("angular acceleration for repeated posture = %v, want 0", a)
		}
	})

	t.Run("joint motion produces an end-effector twist", func(t *testing.T) {
		dq := make([]float64, cfg.DOF)
		dq[0] = 0.5 // spin the base
		if err := model.Update(cfg.ReadyPosture, dq); err != nil {
			t.Fatal(err)
		}
		if v := model.EEVelocity().Norm() + model.AngularVelocity().Norm(); v < 1e-6 {
			t.Error("base joint motion produced no end-effector twist")
		}
	})
}
