package markov

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildExactTable(t *testing.T) {
	m := buildModel(t, "a b c", Params{KMin: 2, KMax: 2, TargetSentenceLength: 5})

	testCases := []struct {
		context []string
		dir     Direction
		want    Distribution
	}{
		{[]string{"a", "b"}, Forward, Distribution{"c": 1}},
		{[]string{"b", "c"}, Forward, Distribution{EndToken: 1}},
		{[]string{"a", "b"}, Backward, Distribution{StartToken: 1}},
		{[]string{"b", "c"}, Backward, Distribution{"a": 1}},
		// Windows whose context holds a sentinel are not stored.
		{[]string{StartToken, "a"}, Forward, nil},
		{[]string{"c", EndToken}, Backward, nil},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%v/%s", tc.context, tc.dir), func(t *testing.T) {
			got := m.Lookup(tc.context, tc.dir)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Lookup mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if m.Len() != 2 {
		t.Errorf("expected exactly 2 stored contexts, got %d", m.Len())
	}
}

func TestBuilderCountsEveryOrder(t *testing.T) {
	b, err := NewBuilder(Params{KMin: 1, KMax: 2, TargetSentenceLength: 5}, WithMinSentenceFactor(0))
	if err != nil {
		t.Fatal(err)
	}
	b.Add([]string{"a", "b", "a", "b"})

	counts := b.Counts()
	if got := counts.Get([]string{"a"}, Forward, "b"); got != 2 {
		t.Errorf("order 1: expected a -> b twice, got %d", got)
	}
	if got := counts.Get([]string{"b"}, Forward, EndToken); got != 1 {
		t.Errorf("order 1: expected b -> <EOC> once, got %d", got)
	}
	if got := counts.Get([]string{"a", "b"}, Forward, "a"); got != 1 {
		t.Errorf("order 2: expected (a b) -> a once, got %d", got)
	}
	if got := counts.Get([]string{"a", "b"}, Backward, "b"); got != 1 {
		t.Errorf("order 2: expected b <- (a b) once, got %d", got)
	}
	if got := counts.Get([]string{"a", "b"}, Backward, StartToken); got != 1 {
		t.Errorf("order 2: expected <SOC> <- (a b) once, got %d", got)
	}
}

func TestMinSentenceFactor(t *testing.T) {
	params := Params{KMin: 1, KMax: 2, TargetSentenceLength: 5}
	b, err := NewBuilder(params)
	if err != nil {
		t.Fatal(err)
	}
	// Four tokens: long enough for order 1 (3*1) but not for order 2 (3*2).
	b.Add([]string{"a", "b", "c", "d"})

	counts := b.Counts()
	if counts.Get([]string{"a"}, Forward, "b") != 1 {
		t.Error("expected order 1 to be counted")
	}
	if counts.Get([]string{"a", "b"}, Forward, "c") != 0 {
		t.Error("expected order 2 to be skipped for a short sentence")
	}
}

func TestAddAllMatchesSerialAdd(t *testing.T) {
	params := Params{KMin: 1, KMax: 4, TargetSentenceLength: 5}
	tok := NewDefaultTokenizer()
	sentences := tok.Sentences("the quick brown fox jumps over the lazy dog. the dog sleeps. the fox runs over the hill and far away.")

	serial, _ := NewBuilder(params, WithMinSentenceFactor(0))
	for _, s := range sentences {
		serial.Add(s)
	}
	parallel, _ := NewBuilder(params, WithMinSentenceFactor(0))
	parallel.AddAll(sentences)

	if diff := cmp.Diff(flatten(serial.Counts()), flatten(parallel.Counts())); diff != "" {
		t.Errorf("parallel counts differ from serial counts (-serial +parallel):\n%s", diff)
	}
	if serial.Sentences() != parallel.Sentences() {
		t.Errorf("sentence totals differ: %d vs %d", serial.Sentences(), parallel.Sentences())
	}
}

func TestNormalizedDistributionsSumToOne(t *testing.T) {
	m := buildModel(t, fishCorpus+" one cat two cats. red cat, blue fish.", Params{KMin: 1, KMax: 3, TargetSentenceLength: 5})

	m.Contexts(func(c []string) {
		if len(c) < 1 || len(c) > 3 {
			t.Errorf("context %q outside the order range", c)
		}
		for _, dir := range []Direction{Forward, Backward} {
			d := m.Lookup(c, dir)
			if d == nil {
				continue
			}
			var sum float64
			for _, p := range d {
				sum += p
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("%q %s sums to %v", c, dir, sum)
			}
		}
	})
}

func TestParamsValidate(t *testing.T) {
	for _, p := range []Params{
		{KMin: 0, KMax: 2, TargetSentenceLength: 5},
		{KMin: 3, KMax: 2, TargetSentenceLength: 5},
		{KMin: 1, KMax: 2, TargetSentenceLength: 0},
	} {
		if err := p.Validate(); err == nil {
			t.Errorf("expected %+v to be rejected", p)
		}
	}
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("default params rejected: %v", err)
	}
}

func BenchmarkTrain(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()
	tok := NewDefaultTokenizer()

	for _, kMax := range []int{2, 3, 5} {
		b.Run(fmt.Sprintf("KMax%d", kMax), func(b *testing.B) {
			b.SetBytes(int64(len(corpus)))
			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				builder, _ := NewBuilder(Params{KMin: 1, KMax: kMax, TargetSentenceLength: 5})
				if _, err := builder.Train(ctx, tok, strings.NewReader(corpus)); err != nil {
					b.Fatalf("Train() failed: %v", err)
				}
			}
		})
	}
}
