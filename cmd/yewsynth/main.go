// yewsynth is the synthetic benchmark and correctness driver: it builds a
// rooted tree over --taxa tips (balanced unless --randomtree or --pectinate
// is given), fills it with random characters,
// and times repeated likelihood evaluations against the selected resource.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	yew "github.com/23skdu/longbow-yew"
	"github.com/23skdu/longbow-yew/flags"
)

var (
	statesFlag       = flag.Int("states", 4, "Number of states in the substitution model")
	taxaFlag         = flag.Int("taxa", 16, "Number of tips")
	sitesFlag        = flag.Int("sites", 1000, "Number of site patterns")
	ratesFlag        = flag.Int("rates", 4, "Number of rate categories")
	repsFlag         = flag.Int("reps", 5, "Number of evaluation replicates")
	rsrcFlag         = flag.Int("rsrc", -1, "Pin a specific resource number (-1 = best match)")
	seedFlag         = flag.Int64("seed", 42, "Random seed")
	manualScale      = flag.Bool("manualscale", false, "Rescale with caller-managed scale buffers")
	autoScale        = flag.Bool("autoscale", false, "Rescale automatically on underflow risk")
	dynamicScale     = flag.Bool("dynamicscale", false, "Rescale every --rescalefrequency evaluations")
	alwaysScale      = flag.Bool("alwaysscale", false, "Rescale every node every evaluation")
	rescaleFrequency = flag.Int("rescalefrequency", 100, "Evaluations between rescales (dynamic scaling)")
	doublePrecision  = flag.Bool("doubleprecision", false, "Use double precision (default single)")
	disableVector    = flag.Bool("disablevector", false, "Disable the vectorized kernels")
	enableThreads    = flag.Bool("enablethreads", false, "Enable the intra-instance worker pool")
	threadCount      = flag.Int("threadcount", 0, "Worker pool size (0 = logical CPUs)")
	compactTips      = flag.Int("compacttips", -1, "Tips stored as state indices (-1 = all)")
	eigenCount       = flag.Int("eigencount", 1, "Number of eigen models (each gets its own subtree buffers)")
	eigenComplex     = flag.Bool("eigencomplex", false, "Use the complex-eigenvalue circulant model")
	ievecTrans       = flag.Bool("ievectrans", false, "Supply inverse eigenvectors transposed")
	setMatrixFlag    = flag.Bool("setmatrix", false, "Exponentiate driver-side and install matrices directly")
	partitionsFlag   = flag.Int("partitions", 1, "Number of site partitions")
	siteLikes        = flag.Bool("sitelikes", false, "Write per-pattern log-likelihoods to stdout as Arrow IPC")
	calcDerivs       = flag.Bool("calcderivs", false, "Compute first and second edge derivatives (requires --unrooted)")
	unrooted         = flag.Bool("unrooted", false, "Treat the root join as an unrooted edge")
	logScalers       = flag.Bool("logscalers", false, "Store scale factors as logs")
	resourceList     = flag.Bool("resourcelist", false, "Print the resource list and exit")
	benchmarkList    = flag.Bool("benchmarklist", false, "Benchmark each implementation and exit")
	fullTiming       = flag.Bool("fulltiming", false, "Report per-phase timings")
	enableOTel       = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	randomTree       = flag.Bool("randomtree", false, "Random topology instead of balanced")
	pectinate        = flag.Bool("pectinate", false, "Pectinate (caterpillar) topology")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flag.Parse()
	if err := run(); err != nil {
		log.Fatal().Err(err).Int("code", yew.Code(err)).Msg("yewsynth failed")
	}
}

func validate() error {
	if *statesFlag < 2 {
		return fmt.Errorf("invalid number of states: %d", *statesFlag)
	}
	if *taxaFlag < 2 {
		return fmt.Errorf("invalid number of taxa: %d", *taxaFlag)
	}
	if *eigenComplex && (*statesFlag != 4 || *eigenCount != 1) {
		return fmt.Errorf("eigencomplex requires states=4 and eigencount=1")
	}
	if *partitionsFlag > 1 && *eigenCount != 1 {
		return fmt.Errorf("partitions require eigencount=1")
	}
	if *calcDerivs && !*unrooted {
		return fmt.Errorf("calcderivs requires the unrooted option")
	}
	if *calcDerivs && *taxaFlag < 4 {
		return fmt.Errorf("calcderivs requires at least 4 taxa")
	}
	if *calcDerivs && *setMatrixFlag {
		return fmt.Errorf("calcderivs requires eigen-based matrices")
	}
	nScaling := 0
	for _, b := range []bool{*manualScale, *autoScale, *dynamicScale, *alwaysScale} {
		if b {
			nScaling++
		}
	}
	if nScaling > 1 {
		return fmt.Errorf("at most one scaling discipline may be selected")
	}
	return nil
}

func printResourceList() {
	for _, r := range yew.ResourceList() {
		fmt.Printf("Resource %d:\n\tName : %s\n\tDesc : %s\n\tFlags: %s\n",
			r.Number, r.Name, r.Description, r.SupportFlags)
	}
}

func printBenchmarkList() error {
	bs, err := yew.BenchmarkResources(*statesFlag, *sitesFlag, *ratesFlag, *repsFlag)
	if err != nil {
		return err
	}
	for _, b := range bs {
		fmt.Printf("Resource %d (%s) impl %s: %.3f ms (%.2fx vs CPU)\n",
			b.Number, b.Name, b.ImplName, b.Millis, b.SpeedupVsCPU)
	}
	return nil
}

func run() error {
	if err := validate(); err != nil {
		return err
	}
	if *resourceList {
		printResourceList()
		return nil
	}
	if *benchmarkList {
		return printBenchmarkList()
	}
	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	rng := rand.New(rand.NewSource(*seedFlag))
	ntaxa := *taxaFlag
	states := *statesFlag
	patterns := *sitesFlag
	categories := *ratesFlag
	eigens := *eigenCount
	nodes := 2*ntaxa - 1
	internals := ntaxa - 1
	edgesPerModel := nodes - 1

	compact := *compactTips
	if compact < 0 || compact > ntaxa {
		compact = ntaxa
	}

	pref, req := buildFlags()
	scaling := pref.Scaling() | req.Scaling()
	manualLike := scaling == flags.ScalingManual || scaling == flags.ScalingDynamic

	scaleBuffers := 0
	if manualLike {
		scaleBuffers = internals*eigens + 1
	}
	cumulativeScale := yew.None
	if manualLike {
		cumulativeScale = scaleBuffers - 1
	}

	matrixCount := edgesPerModel * eigens
	d1Slot, d2Slot := yew.None, yew.None
	if *calcDerivs {
		d1Slot = matrixCount
		d2Slot = matrixCount + 1
		matrixCount += 2
	}

	inst, err := yew.NewInstance(yew.InstanceConfig{
		TipCount:         ntaxa,
		PartialsCount:    internals * eigens,
		CompactCount:     compact,
		StateCount:       states,
		PatternCount:     patterns,
		EigenCount:       eigens,
		MatrixCount:      matrixCount,
		CategoryCount:    categories,
		ScaleBufferCount: scaleBuffers,
		Resource:         *rsrcFlag,
		Preference:       pref,
		Requirement:      req,
		ThreadCount:      *threadCount,
		RescaleFrequency: *rescaleFrequency,
	})
	if err != nil {
		return err
	}
	defer inst.Close()

	d := inst.Details()
	log.Info().
		Int("resource", d.ResourceNumber).
		Str("name", d.ResourceName).
		Str("impl", d.ImplName).
		Str("flags", d.Flags.String()).
		Msg("instance ready")

	// Tip data: the first `compact` tips as state indices, the rest as
	// indicator partials.
	for t := 0; t < ntaxa; t++ {
		st := randomStates(patterns, states, rng)
		if t < compact {
			if err := inst.SetTipStates(t, st); err != nil {
				return err
			}
		} else {
			if err := inst.SetTipPartials(t, statesToPartials(st, states, categories)); err != nil {
				return err
			}
		}
	}
	weights := make([]float64, patterns)
	for i := range weights {
		weights[i] = 1
	}
	if err := inst.SetPatternWeights(weights); err != nil {
		return err
	}

	rates := make([]float64, categories)
	catWeights := make([]float64, categories)
	for i := range rates {
		rates[i] = 0.5 + rng.Float64()
		catWeights[i] = 1 / float64(categories)
	}

	models := make([]model, eigens)
	for e := 0; e < eigens; e++ {
		switch {
		case *eigenComplex:
			models[e] = circulantComplex(*ievecTrans)
		case states&(states-1) == 0:
			models[e] = jcHadamard(states)
		default:
			m, err := randomReversible(states, rng, *ievecTrans)
			if err != nil {
				return err
			}
			models[e] = m
		}
		if err := inst.SetCategoryRatesWithIndex(e, rates); err != nil {
			return err
		}
		if err := inst.SetCategoryWeights(e, catWeights); err != nil {
			return err
		}
		if err := inst.SetStateFrequencies(e, models[e].freqs); err != nil {
			return err
		}
		if !*setMatrixFlag {
			if err := inst.SetEigenDecomposition(e, models[e].evec, models[e].ivec, models[e].eval); err != nil {
				return err
			}
		}
	}

	shape := "balanced"
	if *randomTree {
		shape = "random"
	}
	if *pectinate {
		shape = "pectinate"
	}
	joins := buildTree(ntaxa, shape, rng)
	edges := randomEdges(edgesPerModel, rng)

	bufOf := func(node, e int) int {
		if node < ntaxa {
			return node
		}
		return ntaxa + e*internals + (node - ntaxa)
	}
	matOf := func(node, e int) int { return e*edgesPerModel + node }

	var ops []yew.Operation
	scaleBase := func(e int) int { return e * internals }
	for e := 0; e < eigens; e++ {
		for i, j := range joins {
			ws := yew.None
			if manualLike {
				ws = scaleBase(e) + i
			}
			ops = append(ops, yew.Operation{
				Destination:  bufOf(j.parent, e),
				WriteScale:   ws,
				ReadScale:    yew.None,
				Child1:       bufOf(j.left, e),
				Child1Matrix: matOf(j.left, e),
				Child2:       bufOf(j.right, e),
				Child2Matrix: matOf(j.right, e),
				Partition:    0,
			})
		}
	}
	var partOps []yew.Operation
	if *partitionsFlag > 1 {
		assign := make([]int, patterns)
		for k := range assign {
			assign[k] = k % *partitionsFlag
		}
		if err := inst.SetPatternPartitions(*partitionsFlag, assign); err != nil {
			return err
		}
		for p := 0; p < *partitionsFlag; p++ {
			for _, op := range ops {
				op.Partition = p
				op.CumulativeScale = yew.None
				partOps = append(partOps, op)
			}
		}
	}

	rootBuffers := make([]int, eigens)
	weightIdx := make([]int, eigens)
	freqIdx := make([]int, eigens)
	scaleIdx := make([]int, eigens)
	for e := 0; e < eigens; e++ {
		rootBuffers[e] = bufOf(nodes-1, e)
		weightIdx[e] = e
		freqIdx[e] = e
		scaleIdx[e] = cumulativeScale
	}
	allScales := make([]int, internals*eigens)
	for i := range allScales {
		allScales[i] = i
	}

	ctx := context.Background()
	var bestTotal time.Duration
	var logL float64
	for rep := 0; rep < *repsFlag; rep++ {
		var span trace.Span
		if *enableOTel {
			_, span = tracer().Start(ctx, "replicate",
				trace.WithAttributes(attribute.Int("rep", rep)))
		}

		start := time.Now()
		tMat := time.Now()
		for e := 0; e < eigens; e++ {
			probIdx := make([]int, edgesPerModel)
			for i := range probIdx {
				probIdx[i] = matOf(i, e)
			}
			if *setMatrixFlag {
				for i := 0; i < edgesPerModel; i++ {
					if err := inst.SetTransitionMatrix(probIdx[i], models[e].transitionBlocks(edges[i], rates), 1.0); err != nil {
						return err
					}
				}
			} else {
				if err := inst.UpdateTransitionMatrices(e, probIdx, nil, nil, edges); err != nil {
					return err
				}
			}
		}
		matElapsed := time.Since(tMat)

		tPart := time.Now()
		if *partitionsFlag > 1 {
			if err := inst.UpdatePartialsByPartition(partOps); err != nil {
				return err
			}
		} else {
			if err := inst.UpdatePartials(ops, yew.None); err != nil {
				return err
			}
		}
		partElapsed := time.Since(tPart)

		tScale := time.Now()
		if manualLike {
			if err := inst.ResetScaleFactors(cumulativeScale); err != nil {
				return err
			}
			if err := inst.AccumulateScaleFactors(allScales, cumulativeScale); err != nil {
				return err
			}
		}
		scaleElapsed := time.Since(tScale)

		tRoot := time.Now()
		if *partitionsFlag > 1 {
			partitionIdx := make([]int, *partitionsFlag)
			bufs := make([]int, *partitionsFlag)
			ws := make([]int, *partitionsFlag)
			fs := make([]int, *partitionsFlag)
			ss := make([]int, *partitionsFlag)
			outs := make([]float64, *partitionsFlag)
			for p := range partitionIdx {
				partitionIdx[p] = p
				bufs[p] = rootBuffers[0]
				ws[p] = 0
				fs[p] = 0
				ss[p] = cumulativeScale
			}
			logL, err = inst.CalculateRootLogLikelihoodsByPartition(bufs, ws, fs, ss, partitionIdx, outs)
			if err != nil {
				return err
			}
			if *fullTiming {
				log.Info().Floats64("partition_logL", outs).Msg("per-partition log-likelihoods")
			}
		} else {
			logL, err = inst.CalculateRootLogLikelihoods(rootBuffers, weightIdx, freqIdx, scaleIdx)
			if err != nil {
				return err
			}
		}
		rootElapsed := time.Since(tRoot)

		if *calcDerivs {
			// Unrooted: the root join collapses to a single edge between
			// its two children; derivatives are taken along that edge.
			// The parent side must be a partials buffer.
			j := joins[len(joins)-1]
			parent, child := j.left, j.right
			if parent < ntaxa {
				parent, child = child, parent
			}
			if err := inst.UpdateTransitionMatrices(0, []int{matOf(child, 0)}, []int{d1Slot}, []int{d2Slot}, []float64{edges[child]}); err != nil {
				return err
			}
			eLogL, d1, d2, err := inst.CalculateEdgeLogLikelihoods(
				bufOf(parent, 0), bufOf(child, 0), matOf(child, 0),
				d1Slot, d2Slot, 0, 0, cumulativeScale)
			if err != nil {
				return err
			}
			log.Info().
				Float64("edge_logL", eLogL).
				Float64("dlogL", d1).
				Float64("d2logL", d2).
				Msg("edge derivatives")
		}

		total := time.Since(start)
		if span != nil {
			span.End()
		}
		if rep == 0 || total < bestTotal {
			bestTotal = total
		}
		ev := log.Info().Int("rep", rep).Float64("logL", logL).Dur("total", total)
		if *fullTiming {
			ev = ev.Dur("matrices", matElapsed).
				Dur("partials", partElapsed).
				Dur("scaling", scaleElapsed).
				Dur("root", rootElapsed)
		}
		ev.Msg("replicate")
	}

	log.Info().
		Dur("best", bestTotal).
		Float64("evals_per_sec", 1.0/bestTotal.Seconds()).
		Float64("logL", logL).
		Msg("done")

	if *siteLikes {
		siteLogL := make([]float64, patterns)
		if err := inst.GetSiteLogLikelihoods(siteLogL); err != nil {
			return err
		}
		if err := writeSiteLogLikelihoods(os.Stdout, siteLogL); err != nil {
			return fmt.Errorf("writing site log-likelihoods: %w", err)
		}
	}
	return nil
}

// buildFlags maps the command line to preference/requirement bitsets.
func buildFlags() (pref, req flags.Flags) {
	if *doublePrecision {
		pref |= flags.PrecisionDouble
	} else {
		pref |= flags.PrecisionSingle
	}
	if *disableVector {
		req |= flags.VectorNone
	}
	if *enableThreads {
		req |= flags.ThreadingCPP
	}
	switch {
	case *manualScale:
		req |= flags.ScalingManual
	case *autoScale:
		req |= flags.ScalingAuto
	case *dynamicScale:
		req |= flags.ScalingDynamic
	case *alwaysScale:
		req |= flags.ScalingAlways
	}
	if *logScalers {
		req |= flags.ScalersLog
	} else {
		pref |= flags.ScalersRaw
	}
	if *eigenComplex {
		req |= flags.EigenComplex
	} else {
		pref |= flags.EigenReal
	}
	if *ievecTrans {
		req |= flags.InvEvecTransposed
	}
	pref |= flags.ProcessorCPU
	return pref, req
}
