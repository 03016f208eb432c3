package crokinole

import (
	"context"
	"testing"
)

func TestVectorCodec(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		in := []float64{0.004, -0.44, 0.315, -1.63, 1.53, 2.15, -0.33}
		raw, err := encodeVector(in)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		out, err := decodeVector(raw)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(out) != len(in) {
			t.Fatalf("length %d, want %d", len(out), len(in))
		}
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("round trip changed %v to %v", in, out)
			}
		}
	})

	t.Run("empty string decodes to nil", func(t *testing.T) {
		out, err := decodeVector("")
		if err != nil || out != nil {
			t.Fatalf("got (%v, %v), want (nil, nil)", out, err)
		}
	})

	t.Run("garbage is an error", func(t *testing.T) {
		if _, err := decodeVector("not json"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestMatrixDecode(t *testing.T) {
	t.Run("well-formed matrix", func(t *testing.T) {
		m, err := decodeMatrix(`[[1,0],[0,2]]`)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		r, c := m.Dims()
		if r != 2 || c != 2 {
			t.Fatalf("dims = %dx%d, want 2x2", r, c)
		}
		if m.At(1, 1) != 2 {
			t.Errorf("m[1][1] = %v, want 2", m.At(1, 1))
		}
	})

	t.Run("empty string decodes to nil", func(t *testing.T) {
		m, err := decodeMatrix("")
		if err != nil || m != nil {
			t.Fatalf("got (%v, %v), want (nil, nil)", m, err)
		}
	})

	t.Run("ragged rows are an error", func(t *testing.T) {
		if _, err := decodeMatrix(`[[1,2],[3]]`); err == nil {
			t.Error("expected error for ragged matrix")
		}
	})

	t.Run("no rows is an error", func(t *testing.T) {
		if _, err := decodeMatrix(`[]`); err == nil {
			t.Error("expected error for empty matrix")
		}
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	t.Run("missing keys read as empty", func(t *testing.T) {
		s, err := store.ReadString(ctx, "absent")
		if err != nil || s != "" {
			t.Fatalf("got (%q, %v), want empty", s, err)
		}
		v, err := store.ReadVector(ctx, "absent")
		if err != nil || v != nil {
			t.Fatalf("got (%v, %v), want nil vector", v, err)
		}
		m, err := store.ReadMatrix(ctx, "absent")
		if err != nil || m != nil {
			t.Fatalf("got (%v, %v), want nil matrix", m, err)
		}
	})

	t.Run("vector round trip through the store", func(t *testing.T) {
		in := []float64{1, 2, 3}
		if err := store.WriteVector(ctx, "q", in); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		out, err := store.ReadVector(ctx, "q")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(out) != 3 || out[0] != 1 || out[2] != 3 {
			t.Fatalf("round trip returned %v", out)
		}
	})

	t.Run("strings overwrite", func(t *testing.T) {
		if err := store.WriteString(ctx, "token", TokenExecute); err != nil {
			t.Fatal(err)
		}
		if err := store.WriteString(ctx, "token", TokenWait); err != nil {
			t.Fatal(err)
		}
		s, err := store.ReadString(ctx, "token")
		if err != nil || s != TokenWait {
			t.Fatalf("got (%q, %v), want %q", s, err, TokenWait)
		}
	})
}
