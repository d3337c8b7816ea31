// Package ncm is a nearest-class-mean continual learner over synthetic
// Gaussian classes. Each class is a cluster around a random center. The
// feature encoder drifts by a random offset at every new task, so prototypes
// of classes that are not rehearsed from the replay buffer go stale and old
// tasks are forgotten.
package ncm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/continual"
	"github.com/kylegalloway/cilearn/internal/learner"
	"github.com/kylegalloway/cilearn/internal/parallel"
	"github.com/kylegalloway/cilearn/internal/tasks"
)

const centerScale = 3.0

// ErrOutOfOrder is returned when tasks are trained or evaluated out of sequence.
var ErrOutOfOrder = errors.New("ncm: task out of order")

// Config controls the synthetic data and the training loop.
type Config struct {
	Dim             int
	SamplesPerClass int
	Noise           float64
	Drift           float64
	ReplayPerClass  int
	Epochs          int
	BatchSize       int
	Workers         int
	LearningRate    float64
	Seed            uint64
	Granularity     continual.Granularity
}

func (c *Config) applyDefaults() {
	if c.Dim <= 0 {
		c.Dim = 16
	}
	if c.SamplesPerClass <= 0 {
		c.SamplesPerClass = 64
	}
	if c.Noise <= 0 {
		c.Noise = 1.0
	}
	if c.Epochs <= 0 {
		c.Epochs = 1
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		c.LearningRate = 0.5
	}
	if c.Granularity == "" {
		c.Granularity = continual.SentenceLevel
	}
}

// Learner implements learner.Learner plus the Preparer, Checkpointer and
// Releaser capabilities.
type Learner struct {
	cfg    Config
	stream *tasks.Stream
	logger *zap.Logger

	prepared bool
	// [class][sample][dim], raw inputs before encoding.
	train, dev, test [][][]float64

	offset []float64
	protos [][]float64
	replay [][][]float64
	// learned is the number of tasks trained so far.
	learned int

	cacheX [][]float64
	cacheY []int
}

var (
	_ learner.Learner      = (*Learner)(nil)
	_ learner.Preparer     = (*Learner)(nil)
	_ learner.Checkpointer = (*Learner)(nil)
	_ learner.Releaser     = (*Learner)(nil)
)

// New creates a learner for the given task stream.
func New(cfg Config, stream *tasks.Stream, logger *zap.Logger) (*Learner, error) {
	if stream == nil || stream.Len() == 0 {
		return nil, errors.New("ncm: empty task stream")
	}
	cfg.applyDefaults()
	if !cfg.Granularity.Valid() {
		return nil, fmt.Errorf("ncm: invalid granularity %q", cfg.Granularity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Learner{cfg: cfg, stream: stream, logger: logger}, nil
}

func (l *Learner) rng(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(l.cfg.Seed, stream))
}

// Prepare generates every class's train, dev and test samples.
func (l *Learner) Prepare(ctx context.Context) error {
	if l.prepared {
		return nil
	}
	n := l.stream.TotalClasses()
	evalSize := max(1, l.cfg.SamplesPerClass/4)
	l.train = make([][][]float64, n)
	l.dev = make([][][]float64, n)
	l.test = make([][][]float64, n)
	l.protos = make([][]float64, n)
	l.replay = make([][][]float64, n)
	l.offset = make([]float64, l.cfg.Dim)

	for c := 0; c < n; c++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := l.rng(uint64(c) << 8)
		center := make([]float64, l.cfg.Dim)
		for d := range center {
			center[d] = r.NormFloat64() * centerScale
		}
		l.train[c] = l.sample(r, center, l.cfg.SamplesPerClass)
		l.dev[c] = l.sample(r, center, evalSize)
		l.test[c] = l.sample(r, center, evalSize)
	}
	l.prepared = true
	l.logger.Debug("generated synthetic classes",
		zap.Int("classes", n),
		zap.Int("dim", l.cfg.Dim),
		zap.Int("train_per_class", l.cfg.SamplesPerClass),
		zap.Int("eval_per_class", evalSize))
	return nil
}

func (l *Learner) sample(r *rand.Rand, center []float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		x := make([]float64, len(center))
		for d := range x {
			x[d] = center[d] + r.NormFloat64()*l.cfg.Noise
		}
		out[i] = x
	}
	return out
}

func (l *Learner) encode(x []float64) []float64 {
	z := make([]float64, len(x))
	for d := range x {
		z[d] = x[d] + l.offset[d]
	}
	return z
}

// drift moves the encoder by a random vector of length cfg.Drift.
func (l *Learner) drift(taskID int) {
	if l.cfg.Drift == 0 {
		return
	}
	r := l.rng(uint64(taskID)<<8 | 1)
	dir := make([]float64, l.cfg.Dim)
	var norm float64
	for d := range dir {
		dir[d] = r.NormFloat64()
		norm += dir[d] * dir[d]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for d := range dir {
		l.offset[d] += dir[d] / norm * l.cfg.Drift
	}
}

// TrainTask learns the classes of ts.TaskID, rehearsing replayed exemplars of
// earlier classes alongside.
func (l *Learner) TrainTask(ctx context.Context, ts *learner.TaskState) error {
	if err := l.Prepare(ctx); err != nil {
		return err
	}
	t := ts.TaskID
	if t != l.learned || t >= l.stream.Len() {
		return fmt.Errorf("%w: train task %d, next is %d", ErrOutOfOrder, t, l.learned)
	}
	if t > 0 {
		l.drift(t)
	}

	lo, hi := l.stream.ClassRange(t)
	l.cacheX, l.cacheY = l.cacheX[:0], l.cacheY[:0]
	for c := lo; c < hi; c++ {
		for _, x := range l.train[c] {
			l.cacheX = append(l.cacheX, l.encode(x))
			l.cacheY = append(l.cacheY, c)
		}
	}
	replayed := 0
	for c := 0; c < lo; c++ {
		for _, x := range l.replay[c] {
			l.cacheX = append(l.cacheX, l.encode(x))
			l.cacheY = append(l.cacheY, c)
			replayed++
		}
	}

	n := len(l.cacheX)
	batch := l.cfg.BatchSize
	if batch <= 0 || batch > n {
		batch = n
	}
	cand := cloneProtos(l.protos)
	best := cloneProtos(cand)
	r := l.rng(uint64(t)<<8 | 2)

	for epoch := 0; epoch < l.cfg.Epochs; epoch++ {
		perm := r.Perm(n)
		for b := 0; b < n; b += batch {
			idx := perm[b:min(b+batch, n)]
			means, err := l.batchMeans(ctx, idx)
			if err != nil {
				return fmt.Errorf("task %d epoch %d: %w", t, epoch, err)
			}
			for c, m := range means {
				if m == nil {
					continue
				}
				if cand[c] == nil {
					cand[c] = m
					continue
				}
				for d := range m {
					cand[c][d] += l.cfg.LearningRate * (m[d] - cand[c][d])
				}
			}
			ts.Step++
			ts.GlobalStep++
		}

		score := l.accuracyOn(cand, l.dev, t, t, continual.CIL)
		if score > ts.BestScore {
			ts.BestScore = score
			best = cloneProtos(cand)
		}
		l.logger.Debug("epoch finished",
			zap.Int("task_id", t),
			zap.Int("epoch", epoch),
			zap.Float64("dev_acc", score),
			zap.Float64("best_score", ts.BestScore))
	}

	l.protos = best
	if l.cfg.ReplayPerClass > 0 {
		for c := lo; c < hi; c++ {
			k := min(l.cfg.ReplayPerClass, len(l.train[c]))
			l.replay[c] = l.train[c][:k]
		}
	}
	l.learned++
	l.logger.Info("task learned",
		zap.Int("task_id", t),
		zap.Int("samples", n),
		zap.Int("replayed", replayed),
		zap.Int("steps", ts.Step),
		zap.Float64("best_dev_acc", ts.BestScore))
	return nil
}

// batchMeans averages the cached samples at idx per class, splitting the
// batch across workers. Classes absent from the batch get a nil mean.
func (l *Learner) batchMeans(ctx context.Context, idx []int) ([][]float64, error) {
	classes := len(l.protos)
	dim := l.cfg.Dim
	spans := parallel.Split(len(idx), l.cfg.Workers)
	sums := make([][][]float64, len(spans))
	counts := make([][]int, len(spans))

	err := parallel.Fanout(ctx, l.cfg.Workers, len(idx), func(_ context.Context, w int, sp parallel.Span) error {
		s := make([][]float64, classes)
		cnt := make([]int, classes)
		for _, i := range idx[sp.Lo:sp.Hi] {
			c := l.cacheY[i]
			if s[c] == nil {
				s[c] = make([]float64, dim)
			}
			for d, v := range l.cacheX[i] {
				s[c][d] += v
			}
			cnt[c]++
		}
		sums[w], counts[w] = s, cnt
		return nil
	})
	if err != nil {
		return nil, err
	}

	means := make([][]float64, classes)
	total := make([]int, classes)
	for w := range sums {
		for c, s := range sums[w] {
			if s == nil {
				continue
			}
			if means[c] == nil {
				means[c] = make([]float64, dim)
			}
			for d, v := range s {
				means[c][d] += v
			}
			total[c] += counts[w][c]
		}
	}
	for c, m := range means {
		if m == nil {
			continue
		}
		for d := range m {
			m[d] /= float64(total[c])
		}
	}
	return means, nil
}

// EvaluateCurrentTask returns the accuracy in percent on evalTaskID's split
// after curTaskID was learned.
func (l *Learner) EvaluateCurrentTask(ctx context.Context, evalTaskID, curTaskID int, phase continual.Phase, mode continual.ILMode) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if curTaskID >= l.learned || evalTaskID > curTaskID || evalTaskID < 0 {
		return 0, fmt.Errorf("%w: evaluate task %d after task %d, %d learned", ErrOutOfOrder, evalTaskID, curTaskID, l.learned)
	}
	var split [][][]float64
	switch phase {
	case continual.PhaseTrain:
		split = l.train
	case continual.PhaseDev:
		split = l.dev
	case continual.PhaseTest:
		split = l.test
	default:
		return 0, fmt.Errorf("ncm: unknown phase %q", phase)
	}
	return l.accuracyOn(l.protos, split, evalTaskID, curTaskID, mode), nil
}

// accuracyOn scores protos on split. Word-level sets cover every task up to
// evalTaskID. CIL picks among all classes seen through curTaskID, TIL among
// the classes of each sample's own task.
func (l *Learner) accuracyOn(protos [][]float64, split [][][]float64, evalTaskID, curTaskID int, mode continual.ILMode) float64 {
	first := evalTaskID
	if l.cfg.Granularity == continual.WordLevel {
		first = 0
	}
	seen := l.stream.SeenClasses(curTaskID)

	correct, total := 0, 0
	for t := first; t <= evalTaskID; t++ {
		lo, hi := l.stream.ClassRange(t)
		candLo, candHi := 0, seen
		if mode == continual.TIL {
			candLo, candHi = lo, hi
		}
		for c := lo; c < hi; c++ {
			for _, x := range split[c] {
				if nearest(protos, l.encode(x), candLo, candHi) == c {
					correct++
				}
				total++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}

func nearest(protos [][]float64, z []float64, lo, hi int) int {
	best, bestDist := -1, math.Inf(1)
	for c := lo; c < hi; c++ {
		p := protos[c]
		if p == nil {
			continue
		}
		var dist float64
		for d := range z {
			diff := z[d] - p[d]
			dist += diff * diff
		}
		if dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

type modelState struct {
	Offset  []float64     `json:"offset"`
	Learned int           `json:"learned"`
	Replay  [][][]float64 `json:"replay"`
}

// CheckpointState serializes the encoder offset and replay buffer as the
// model, and the class prototypes as the classifier.
func (l *Learner) CheckpointState() (model, classifier []byte, err error) {
	model, err = json.Marshal(modelState{Offset: l.offset, Learned: l.learned, Replay: l.replay})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal model: %w", err)
	}
	classifier, err = json.Marshal(l.protos)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal classifier: %w", err)
	}
	return model, classifier, nil
}

// ReleaseTaskResources drops the encoded training cache of the last task.
func (l *Learner) ReleaseTaskResources() {
	l.cacheX, l.cacheY = nil, nil
}

func cloneProtos(p [][]float64) [][]float64 {
	out := make([][]float64, len(p))
	for i, v := range p {
		if v != nil {
			out[i] = append([]float64(nil), v...)
		}
	}
	return out
}
