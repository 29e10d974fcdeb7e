package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// ForestParams configures a RandomForest. MaxFeatures is a fraction of the
// feature count considered at each split; 0 or 1 means all features.
type ForestParams struct {
	NumTrees        int     `json:"num_trees" yaml:"num_trees"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     float64 `json:"max_features" yaml:"max_features"`
	Bootstrap       bool    `json:"bootstrap" yaml:"bootstrap"`
	Seed            int64   `json:"seed" yaml:"seed"`
	Workers         int     `json:"-" yaml:"workers"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NumTrees:        100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     1.0,
		Bootstrap:       true,
		Seed:            42,
	}
}

// TreeParams returns the per-tree parameters for a forest over all features.
func (p ForestParams) TreeParams() TreeParams {
	return TreeParams{
		MaxDepth:        p.MaxDepth,
		MinSamplesSplit: p.MinSamplesSplit,
		MinSamplesLeaf:  p.MinSamplesLeaf,
		Seed:            p.Seed,
	}
}

func (p ForestParams) featuresPerSplit(numFeatures int) int {
	if p.MaxFeatures <= 0 || p.MaxFeatures >= 1 {
		return numFeatures
	}
	k := int(math.Ceil(p.MaxFeatures * float64(numFeatures)))
	if k < 1 {
		k = 1
	}
	return k
}

// RandomForest averages bagged regression trees.
type RandomForest struct {
	params      ForestParams
	numFeatures int
	trees       []*RegressionTree
}

type forestState struct {
	Params      ForestParams      `json:"params"`
	NumFeatures int               `json:"num_features"`
	Trees       []*RegressionTree `json:"trees"`
}

func NewRandomForest(params ForestParams) *RandomForest {
	if params.NumTrees <= 0 {
		params.NumTrees = DefaultForestParams().NumTrees
	}
	return &RandomForest{params: params}
}

// Fit trains every tree concurrently. Each tree's seed is drawn from the
// forest seed before any work starts, so the result does not depend on
// Workers.
func (f *RandomForest) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	if f.params.NumTrees <= 0 {
		f.params.NumTrees = DefaultForestParams().NumTrees
	}
	numFeatures := len(features[0])
	master := rand.New(rand.NewSource(f.params.Seed))
	seeds := make([]int64, f.params.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	workers := f.params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]*RegressionTree, f.params.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			sample := f.sample(rng, len(features))
			params := f.params.TreeParams()
			params.MaxFeatures = f.params.featuresPerSplit(numFeatures)
			params.Seed = seeds[i]
			tree := NewRegressionTree(params)
			if err := tree.fitSample(gctx, features, targets, sample, rng); err != nil {
				return eris.Wrapf(err, "fit tree %d", i)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.numFeatures = numFeatures
	f.trees = trees
	return nil
}

func (f *RandomForest) sample(rng *rand.Rand, n int) []int {
	sample := make([]int, n)
	for i := range sample {
		if f.params.Bootstrap {
			sample[i] = rng.Intn(n)
		} else {
			sample[i] = i
		}
	}
	return sample
}

func (f *RandomForest) Predict(features []float64) (float64, error) {
	if len(f.trees) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != f.numFeatures {
		return 0, eris.Wrapf(ErrFeatureCount, "got %d features, want %d", len(features), f.numFeatures)
	}
	var sum float64
	for _, tree := range f.trees {
		v, err := tree.Predict(features)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(f.trees)), nil
}

func (f *RandomForest) NumTrees() int {
	return len(f.trees)
}

func (f *RandomForest) NumFeatures() int {
	return f.numFeatures
}

func (f *RandomForest) Params() ForestParams {
	return f.params
}

func (f *RandomForest) Save(path string) error {
	if len(f.trees) == 0 {
		return ErrNotTrained
	}
	return writeModel(path, modelEnvelope{
		Type: ModelTypeRandomForest,
		Forest: &forestState{
			Params:      f.params,
			NumFeatures: f.numFeatures,
			Trees:       f.trees,
		},
	})
}

func (f *RandomForest) Load(path string) error {
	env, err := readModel(path, ModelTypeRandomForest)
	if err != nil {
		return err
	}
	state := env.Forest
	if state == nil || len(state.Trees) == 0 {
		return eris.Wrapf(ErrCorruptModel, "%s has no trees", path)
	}
	for i, tree := range state.Trees {
		if tree == nil {
			return eris.Wrapf(ErrCorruptModel, "%s: tree %d is null", path, i)
		}
		if err := tree.validate(); err != nil {
			return eris.Wrapf(err, "%s: tree %d", path, i)
		}
		if tree.NumFeatures != state.NumFeatures {
			return eris.Wrapf(ErrCorruptModel, "%s: tree %d expects %d features, forest %d", path, i, tree.NumFeatures, state.NumFeatures)
		}
	}
	f.params = state.Params
	f.numFeatures = state.NumFeatures
	f.trees = state.Trees
	return nil
}
