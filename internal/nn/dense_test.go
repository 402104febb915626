package nn

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"faultsim/internal/model"
)

func TestNewParamTagFromName(t *testing.T) {
	tests := []struct {
		name string
		opts []ParamOption
		want model.Tag
	}{
		{name: "dense_0/kernel", want: model.TagFaultable},
		{name: "conv2d/kernel", want: model.TagProtected},
		{name: "token_embedding/table", want: model.TagProtected},
		{name: "conv_head/kernel", opts: []ParamOption{WithTag(model.TagFaultable)}, want: model.TagFaultable},
		{name: "dense_1/bias", opts: []ParamOption{WithTag(model.TagProtected)}, want: model.TagProtected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewParam(tc.name, []int{2, 3}, tc.opts...)
			if err != nil {
				t.Fatalf("new param: %v", err)
			}
			if p.Tag != tc.want {
				t.Fatalf("unexpected tag: got=%s want=%s", p.Tag, tc.want)
			}
			if p.Len() != 6 {
				t.Fatalf("unexpected len: %d", p.Len())
			}
		})
	}
}

func TestNewParamRejectsBadShape(t *testing.T) {
	if _, err := NewParam("w", []int{3, 0}); err == nil {
		t.Fatal("expected invalid shape error")
	}
	if _, err := NewParam("", []int{1}); err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestDenseForward(t *testing.T) {
	layer, err := NewDense("d", 2, 1, "identity")
	if err != nil {
		t.Fatalf("new dense: %v", err)
	}
	copy(layer.kernel.Data, []float64{2, -1})
	layer.bias.Data[0] = 0.5

	out, err := layer.Forward(mat.NewDense(2, 2, []float64{1, 0.25, 0, 1}))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	want := []float64{2.25, -0.5}
	for i, w := range want {
		if got := out.At(i, 0); math.Abs(got-w) > 1e-12 {
			t.Fatalf("row %d: got=%f want=%f", i, got, w)
		}
	}
}

func TestDenseSeesInPlaceWeightWrites(t *testing.T) {
	layer, err := NewDense("d", 1, 1, "identity")
	if err != nil {
		t.Fatalf("new dense: %v", err)
	}
	layer.kernel.Data[0] = 3
	out, err := layer.Forward(mat.NewDense(1, 1, []float64{2}))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if out.At(0, 0) != 6 {
		t.Fatalf("expected kernel view to track param data, got %f", out.At(0, 0))
	}
}

func TestDenseBackwardBeforeForward(t *testing.T) {
	layer, err := NewDense("d", 2, 2, "tanh")
	if err != nil {
		t.Fatalf("new dense: %v", err)
	}
	if _, _, err := layer.Backward(mat.NewDense(1, 2, nil)); !errors.Is(err, ErrNoForward) {
		t.Fatalf("expected ErrNoForward, got %v", err)
	}
}

func TestDenseProtectedOption(t *testing.T) {
	layer, err := NewDense("d", 2, 2, "relu", Protected())
	if err != nil {
		t.Fatalf("new dense: %v", err)
	}
	for _, p := range layer.Params() {
		if !p.Protected() {
			t.Fatalf("expected %s to be protected", p.Name)
		}
	}

	conv, err := NewDense("conv_like", 2, 2, "relu", Faultable())
	if err != nil {
		t.Fatalf("new dense: %v", err)
	}
	for _, p := range conv.Params() {
		if p.Protected() {
			t.Fatalf("expected %s to be faultable", p.Name)
		}
	}
}

func TestSequentialGradientsMatchFiniteDifference(t *testing.T) {
	seq, err := BuildDense(3, []model.LayerSpec{
		{Name: "hidden", Units: 4, Activation: "tanh"},
		{Name: "logits", Units: 3, Activation: "identity"},
	}, 7)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	x := mat.NewDense(4, 3, []float64{
		0.1, -0.3, 0.7,
		0.9, 0.2, -0.4,
		-0.5, 0.5, 0.05,
		0.3, 0.3, 0.3,
	})
	labels := []int{0, 2, 1, 2}
	loss := SoftmaxCrossEntropy{}

	lossAt := func() float64 {
		logits, err := seq.Forward(x)
		if err != nil {
			t.Fatalf("forward: %v", err)
		}
		v, _, err := loss.Evaluate(logits, labels)
		if err != nil {
			t.Fatalf("loss: %v", err)
		}
		return v
	}

	logits, err := seq.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	_, dLogits, err := loss.Evaluate(logits, labels)
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	grads, err := seq.Backward(dLogits)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}

	params := seq.Params()
	if len(grads) != len(params) {
		t.Fatalf("expected %d gradients, got %d", len(params), len(grads))
	}
	const h = 1e-6
	for pi, p := range params {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + h
			plus := lossAt()
			p.Data[i] = orig - h
			minus := lossAt()
			p.Data[i] = orig

			numeric := (plus - minus) / (2 * h)
			if math.Abs(numeric-grads[pi][i]) > 1e-5 {
				t.Fatalf("%s[%d]: analytic=%g numeric=%g", p.Name, i, grads[pi][i], numeric)
			}
		}
	}
}

func TestBuildDenseDeterministic(t *testing.T) {
	specs := []model.LayerSpec{{Units: 5, Activation: "relu"}, {Units: 2}}
	a, err := BuildDense(4, specs, 42)
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	b, err := BuildDense(4, specs, 42)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		if pa[i].Name != pb[i].Name {
			t.Fatalf("param order differs: %s vs %s", pa[i].Name, pb[i].Name)
		}
		for j := range pa[i].Data {
			if pa[i].Data[j] != pb[i].Data[j] {
				t.Fatalf("%s[%d] differs", pa[i].Name, j)
			}
		}
	}
	if pa[0].Name != "dense_0/kernel" {
		t.Fatalf("unexpected default name: %s", pa[0].Name)
	}
}

func TestSequentialRejectsDuplicateNames(t *testing.T) {
	seq := NewSequential(2)
	first, _ := NewDense("same", 2, 2, "identity")
	second, _ := NewDense("same", 2, 2, "identity")
	if err := seq.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := seq.Add(second); err == nil {
		t.Fatal("expected duplicate name error")
	}
}
