package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"runtime/pprof"
	"time"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/x448/float16"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-glu/internal/device"
	"github.com/23skdu/longbow-glu/internal/ffn"
)

var (
	tokens      = flag.Int("tokens", 32, "Tokens per batch")
	hiddenSize  = flag.Int("hidden", 512, "Hidden size")
	interSize   = flag.Int("inter", 1408, "Intermediate (FFN) size")
	layers      = flag.Int("layers", 4, "Number of decoder layers to simulate")
	iters       = flag.Int("iters", 100, "Forward iterations per layer")
	precision   = flag.String("precision", "fp32", "Precision (fp32, fp16, bf16)")
	fused       = flag.Bool("fused", false, "Use a fused gate+up kernel")
	fusedSilu   = flag.Bool("fused-silu", false, "Bake the activation into the fused kernel (implies -fused)")
	loraRank    = flag.Int("lora-rank", 0, "LoRA adapter rank on gate/up projections (0 = none)")
	freeBuffers = flag.Bool("free-buffers", false, "Release scratch memory after every forward call")
	seed        = flag.Int64("seed", 1, "Weight initialization seed")
	listenAddr  = flag.String("listen", "", "Address to expose Prometheus metrics on (e.g. :8080)")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	if *listenAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info().Str("addr", *listenAddr).Msg("Serving metrics")
			if err := http.ListenAndServe(*listenAddr, nil); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	var err error
	switch *precision {
	case "fp32":
		err = run[float32](device.FP32{})
	case "fp16":
		err = run[float16.Float16](device.FP16{})
	case "bf16":
		err = run[bfloat16.BF16](device.BF16{})
	default:
		log.Fatal().Str("precision", *precision).Msg("Unknown precision")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Benchmark failed")
	}
}

func run[E any](prec device.Precision[E]) error {
	rng := rand.New(rand.NewSource(*seed))

	log.Info().
		Str("precision", prec.Name()).
		Int("tokens", *tokens).Int("hidden", *hiddenSize).Int("inter", *interSize).
		Int("layers", *layers).Bool("fused", *fused || *fusedSilu).Bool("fused_silu", *fusedSilu).
		Int("lora_rank", *loraRank).
		Msg("Building layers")

	stack := make([]*ffn.Layer[E], *layers)
	for i := range stack {
		weights := randomWeights(prec, rng)
		var opts []ffn.Option[E]
		if *freeBuffers {
			opts = append(opts, ffn.WithFreeBufferAfterForward[E]())
		}
		layer, err := ffn.NewLayer(prec, weights, ffn.NewGemmEngine(prec), opts...)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		defer layer.Close()
		stack[i] = layer
	}

	input := make([]E, *tokens**hiddenSize)
	for i := range input {
		input[i] = prec.FromFloat32(rng.Float32()*2 - 1)
	}
	output := make([]E, *tokens**hiddenSize)

	ctx := context.Background()
	start := time.Now()
	for it := 0; it < *iters; it++ {
		for id, layer := range stack {
			batch := &ffn.Batch[E]{Input: input, Tokens: *tokens, LayerID: id}
			if err := layer.Forward(ctx, batch, output); err != nil {
				return fmt.Errorf("iteration %d layer %d: %w", it, id, err)
			}
		}
	}
	elapsed := time.Since(start)

	totalTokens := float64(*iters) * float64(*layers) * float64(*tokens)
	log.Info().
		Dur("elapsed", elapsed).
		Float64("layer_calls_per_sec", float64(*iters**layers)/elapsed.Seconds()).
		Float64("tokens_per_sec", totalTokens/elapsed.Seconds()).
		Msg("Done")
	return nil
}

// randomWeights builds a full FFN weight set. The fused kernel, when
// requested, is the column-concatenation of w1 and w3 so every path computes
// the same function.
func randomWeights[E any](prec device.Precision[E], rng *rand.Rand) *ffn.Weights[E] {
	hidden, inter := *hiddenSize, *interSize
	scale := float32(0.02)

	randMat := func(n int) []E {
		m := make([]E, n)
		for i := range m {
			m[i] = prec.FromFloat32((rng.Float32()*2 - 1) * scale)
		}
		return m
	}
	adapter := func(in, out int) ffn.Adapter[E] {
		if *loraRank == 0 {
			return ffn.Adapter[E]{}
		}
		return ffn.Adapter[E]{Rank: *loraRank, Down: randMat(in * *loraRank), Up: randMat(*loraRank * out)}
	}

	w := &ffn.Weights[E]{
		HiddenSize: hidden,
		InterSize:  inter,
		Output:     ffn.Projection[E]{Kernel: randMat(inter * hidden), InputDims: inter, OutputDims: hidden},
	}
	w1 := randMat(hidden * inter)
	w3 := randMat(hidden * inter)

	if *fused || *fusedSilu {
		fusedKernel := make([]E, hidden*2*inter)
		for r := 0; r < hidden; r++ {
			copy(fusedKernel[r*2*inter:], w1[r*inter:(r+1)*inter])
			copy(fusedKernel[r*2*inter+inter:], w3[r*inter:(r+1)*inter])
		}
		w.FusedGatingIntermediate = ffn.Projection[E]{Kernel: fusedKernel, InputDims: hidden, OutputDims: 2 * inter}
		w.IsFusedSilu = *fusedSilu
	} else {
		w.Gating = ffn.Projection[E]{Kernel: w1, InputDims: hidden, OutputDims: inter, Lora: adapter(hidden, inter)}
		w.Intermediate = ffn.Projection[E]{Kernel: w3, InputDims: hidden, OutputDims: inter, Lora: adapter(hidden, inter)}
	}
	return w
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("glubench"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
