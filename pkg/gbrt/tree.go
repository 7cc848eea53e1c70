package gbrt

import "sort"

// Node is one node of a regression tree in flattened form. Leaf nodes carry
// the prediction in Value; internal nodes route on Feature <= Threshold.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// Tree is a depth-limited regression tree fit to residuals.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict routes x to a leaf.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	X        [][]float64
	grad     []float64
	features []int
	maxDepth int
	minChild float64
	nodes    []Node
}

// build grows a tree greedily by variance reduction on the residuals,
// restricted to the sampled rows and feature subset.
func (b *treeBuilder) build(samples []int, depth int) int {
	sum, count := 0.0, float64(len(samples))
	for _, i := range samples {
		sum += b.grad[i]
	}
	mean := 0.0
	if count > 0 {
		mean = sum / count
	}

	if depth >= b.maxDepth || count < 2*b.minChild {
		return b.leaf(mean)
	}

	feat, thr, ok := b.bestSplit(samples, sum, count)
	if !ok {
		return b.leaf(mean)
	}

	left := make([]int, 0, len(samples))
	right := make([]int, 0, len(samples))
	for _, i := range samples {
		if b.X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return b.leaf(mean)
	}

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: feat, Threshold: thr})
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

func (b *treeBuilder) leaf(value float64) int {
	b.nodes = append(b.nodes, Node{Leaf: true, Value: value})
	return len(b.nodes) - 1
}

// bestSplit scans each candidate feature in sorted order and maximizes the
// squared-error gain sumL²/nL + sumR²/nR - sum²/n.
func (b *treeBuilder) bestSplit(samples []int, sum, count float64) (feat int, thr float64, ok bool) {
	baseScore := sum * sum / count
	bestGain := 1e-12

	order := make([]int, len(samples))
	for _, f := range b.features {
		copy(order, samples)
		sort.Slice(order, func(i, j int) bool { return b.X[order[i]][f] < b.X[order[j]][f] })

		sumL, nL := 0.0, 0.0
		for i := 0; i < len(order)-1; i++ {
			sumL += b.grad[order[i]]
			nL++
			v, next := b.X[order[i]][f], b.X[order[i+1]][f]
			if v == next {
				continue
			}
			nR := count - nL
			if nL < b.minChild || nR < b.minChild {
				continue
			}
			sumR := sum - sumL
			gain := sumL*sumL/nL + sumR*sumR/nR - baseScore
			if gain > bestGain {
				bestGain = gain
				feat = f
				thr = (v + next) / 2
				ok = true
			}
		}
	}
	return feat, thr, ok
}
