package ml

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
)

// TreeParams controls how a RegressionTree grows. Zero values mean
// unlimited depth, all features and the smallest legal split/leaf sizes.
type TreeParams struct {
	MaxDepth        int   `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features" yaml:"max_features"`
	Seed            int64 `json:"seed" yaml:"seed"`
}

func (p TreeParams) withDefaults() TreeParams {
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return p
}

// RegressionTree is a CART tree minimising squared error. Nodes are stored
// flat; children are absolute indices into Nodes.
type RegressionTree struct {
	Params      TreeParams `json:"params"`
	NumFeatures int        `json:"num_features"`
	Nodes       []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	Samples    int     `json:"samples"`
	IsLeaf     bool    `json:"is_leaf"`
}

func NewRegressionTree(params TreeParams) *RegressionTree {
	return &RegressionTree{Params: params}
}

// Fit grows the tree on every row of features.
func (dt *RegressionTree) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if err := checkTrainingSet(features, targets); err != nil {
		return err
	}
	sample := make([]int, len(features))
	for i := range sample {
		sample[i] = i
	}
	return dt.fitSample(ctx, features, targets, sample, rand.New(rand.NewSource(dt.Params.Seed)))
}

// fitSample grows the tree on the rows listed in sample, which may repeat.
func (dt *RegressionTree) fitSample(ctx context.Context, features [][]float64, targets []float64, sample []int, rng *rand.Rand) error {
	b := &treeBuilder{
		ctx:         ctx,
		x:           features,
		y:           targets,
		params:      dt.Params.withDefaults(),
		numFeatures: len(features[0]),
		rng:         rng,
	}
	if b.params.MaxFeatures <= 0 || b.params.MaxFeatures > b.numFeatures {
		b.params.MaxFeatures = b.numFeatures
	}
	b.candidates = make([]int, b.numFeatures)
	for i := range b.candidates {
		b.candidates[i] = i
	}

	idx := append([]int(nil), sample...)
	b.build(idx, 0)
	if b.err != nil {
		return b.err
	}
	dt.NumFeatures = b.numFeatures
	dt.Nodes = b.nodes
	return nil
}

func (dt *RegressionTree) Predict(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != dt.NumFeatures {
		return 0, eris.Wrapf(ErrFeatureCount, "got %d features, want %d", len(features), dt.NumFeatures)
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx <= 0 || idx >= len(dt.Nodes) {
			return 0, eris.New("invalid tree state")
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (dt *RegressionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (dt *RegressionTree) Save(path string) error {
	if len(dt.Nodes) == 0 {
		return ErrNotTrained
	}
	return writeModel(path, modelEnvelope{Type: ModelTypeDecisionTree, Tree: dt})
}

func (dt *RegressionTree) Load(path string) error {
	env, err := readModel(path, ModelTypeDecisionTree)
	if err != nil {
		return err
	}
	if env.Tree == nil {
		return eris.Wrapf(ErrCorruptModel, "%s has no tree", path)
	}
	if err := env.Tree.validate(); err != nil {
		return eris.Wrapf(err, "load %s", path)
	}
	*dt = *env.Tree
	return nil
}

func (dt *RegressionTree) validate() error {
	if len(dt.Nodes) == 0 || dt.NumFeatures <= 0 {
		return eris.Wrap(ErrCorruptModel, "empty tree")
	}
	for i, node := range dt.Nodes {
		if node.IsLeaf {
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= dt.NumFeatures {
			return eris.Wrapf(ErrCorruptModel, "node %d splits on feature %d", i, node.FeatureIdx)
		}
		if node.LeftChild <= i || node.LeftChild >= len(dt.Nodes) || node.RightChild <= i || node.RightChild >= len(dt.Nodes) {
			return eris.Wrapf(ErrCorruptModel, "node %d has invalid children", i)
		}
	}
	return nil
}

type treeBuilder struct {
	ctx         context.Context
	x           [][]float64
	y           []float64
	params      TreeParams
	numFeatures int
	candidates  []int
	rng         *rand.Rand
	nodes       []TreeNode
	pairs       []valueTarget
	err         error
}

type valueTarget struct {
	value  float64
	target float64
}

type split struct {
	feature   int
	threshold float64
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Value:      b.mean(idx),
		Samples:    len(idx),
		IsLeaf:     true,
	})
	if b.err != nil {
		return id
	}
	if err := b.ctx.Err(); err != nil {
		b.err = err
		return id
	}
	if !b.splittable(idx, depth) {
		return id
	}
	s, ok := b.bestSplit(idx)
	if !ok {
		return id
	}
	left, right := partition(b.x, idx, s)
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)

	node := &b.nodes[id]
	node.FeatureIdx = s.feature
	node.Threshold = s.threshold
	node.LeftChild = l
	node.RightChild = r
	node.IsLeaf = false
	return id
}

func (b *treeBuilder) splittable(idx []int, depth int) bool {
	if len(idx) < b.params.MinSamplesSplit || len(idx) < 2*b.params.MinSamplesLeaf {
		return false
	}
	if b.params.MaxDepth > 0 && depth >= b.params.MaxDepth {
		return false
	}
	first := b.y[idx[0]]
	for _, i := range idx[1:] {
		if b.y[i] != first {
			return true
		}
	}
	return false
}

// bestSplit scans the candidate features for the threshold with the lowest
// summed squared error, placing thresholds midway between distinct values.
func (b *treeBuilder) bestSplit(idx []int) (split, bool) {
	features := b.candidates
	if b.params.MaxFeatures < b.numFeatures {
		// partial Fisher-Yates draws a fresh feature subset per node
		for i := 0; i < b.params.MaxFeatures; i++ {
			j := i + b.rng.Intn(len(features)-i)
			features[i], features[j] = features[j], features[i]
		}
		features = features[:b.params.MaxFeatures]
	}

	n := len(idx)
	var total float64
	for _, i := range idx {
		total += b.y[i]
	}
	minLeaf := b.params.MinSamplesLeaf
	bestScore := total * total / float64(n)
	best := split{feature: -1}

	if cap(b.pairs) < n {
		b.pairs = make([]valueTarget, n)
	}
	pairs := b.pairs[:n]

	for _, f := range features {
		for k, i := range idx {
			pairs[k] = valueTarget{value: b.x[i][f], target: b.y[i]}
		}
		sort.Slice(pairs, func(a, c int) bool { return pairs[a].value < pairs[c].value })
		if pairs[0].value == pairs[n-1].value {
			continue
		}

		var leftSum float64
		for k := 0; k < n-1; k++ {
			leftSum += pairs[k].target
			if pairs[k].value == pairs[k+1].value {
				continue
			}
			leftN := k + 1
			rightN := n - leftN
			if leftN < minLeaf || rightN < minLeaf {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(leftN) + rightSum*rightSum/float64(rightN)
			if score > bestScore {
				bestScore = score
				best = split{feature: f, threshold: midpoint(pairs[k].value, pairs[k+1].value)}
			}
		}
	}
	return best, best.feature >= 0
}

func midpoint(lo, hi float64) float64 {
	mid := lo + (hi-lo)/2
	if mid >= hi || math.IsInf(mid, 0) {
		return lo
	}
	return mid
}

func partition(x [][]float64, idx []int, s split) ([]int, []int) {
	left := make([]int, 0, len(idx)/2)
	right := make([]int, 0, len(idx)/2)
	for _, i := range idx {
		if x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func (b *treeBuilder) mean(idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	return sum / float64(len(idx))
}

func checkTrainingSet(features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return eris.New("features or targets empty")
	}
	if len(features) != len(targets) {
		return eris.Errorf("features and targets size mismatch: %d vs %d", len(features), len(targets))
	}
	width := len(features[0])
	if width == 0 {
		return eris.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return eris.Wrapf(ErrFeatureCount, "row %d has %d features, want %d", i, len(row), width)
		}
	}
	return nil
}

type modelEnvelope struct {
	Type   string          `json:"type"`
	Tree   *RegressionTree `json:"tree,omitempty"`
	Forest *forestState    `json:"forest,omitempty"`
}

func writeModel(path string, env modelEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "encode model")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "create model dir for %s", path)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return eris.Wrapf(err, "write model %s", path)
	}
	return nil
}

func readModel(path, wantType string) (*modelEnvelope, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read model %s", path)
	}
	var env modelEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, eris.Wrapf(ErrCorruptModel, "decode %s: %v", path, err)
	}
	if env.Type != wantType {
		return nil, eris.Wrapf(ErrCorruptModel, "%s holds a %q model, want %q", path, env.Type, wantType)
	}
	return &env, nil
}
