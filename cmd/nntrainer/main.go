// Package main provides the nntrainer CLI: build a small network
// from flags, print its memory plan, or train it on a generated
// regression dataset and checkpoint the result.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/kparichay/nntrainer/nn"
	"github.com/kparichay/nntrainer/tensor"
)

const version = "v0.1.0-dev"

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return
	}

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("nntrainer %s\n", version)
	case "plan":
		err = runPlan(args[1:])
	case "train":
		err = runTrain(args[1:])
	default:
		usage()
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("nntrainer - on-device training core")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  plan       Print the memory plan of a model")
	fmt.Println("  train      Train a model on a generated dataset")
}

type modelFlags struct {
	features  int
	hidden    int
	batchSize int
}

func (f *modelFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&f.features, "features", 4, "input features per sample")
	fs.IntVar(&f.hidden, "hidden", 16, "hidden layer width")
	fs.IntVar(&f.batchSize, "batch", 8, "batch size")
}

// buildModel assembles input -> fc -> sigmoid -> fc -> mse.
func buildModel(f modelFlags) (*nn.NeuralNetwork, error) {
	net := nn.NewNeuralNetwork()
	steps := []struct {
		typ   string
		props []string
	}{
		{nn.TypeInput, []string{"name=input",
			fmt.Sprintf("input_shape=%d:1:1:%d", f.batchSize, f.features)}},
		{nn.TypeFullyConnected, []string{"name=hidden",
			fmt.Sprintf("unit=%d", f.hidden)}},
		{nn.TypeActivation, []string{"name=act", "activation=sigmoid"}},
		{nn.TypeFullyConnected, []string{"name=out", "unit=1"}},
		{nn.TypeMSELoss, []string{"name=loss"}},
	}
	for _, s := range steps {
		if err := net.AddLayer(s.typ, s.props...); err != nil {
			return nil, err
		}
	}
	if err := net.Compile(); err != nil {
		return nil, err
	}
	return net, nil
}

func runPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	net, err := buildModel(mf)
	if err != nil {
		return err
	}
	fmt.Print(net.Summary())
	return nil
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	var mf modelFlags
	mf.register(fs)
	epochs := fs.Int("epochs", 10, "training epochs")
	samples := fs.Int("samples", 512, "generated samples")
	lr := fs.Float64("lr", 0.01, "learning rate")
	adam := fs.Bool("adam", true, "use adam instead of sgd")
	seed := fs.Int64("seed", 1, "dataset seed")
	out := fs.String("out", "model.nntc", "checkpoint path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	net, err := buildModel(mf)
	if err != nil {
		return err
	}
	if *adam {
		net.SetOptimizer(nn.NewAdam(nn.AdamConfig{Config: nn.OptimConfig{LR: float32(*lr)}}))
	} else {
		net.SetOptimizer(nn.NewSGD(nn.SGDConfig{LR: float32(*lr)}))
	}
	if err := net.Initialize(true); err != nil {
		return err
	}
	fmt.Print(net.Summary())

	inputs, labels, err := makeDataset(*samples, mf.features, *seed)
	if err != nil {
		return err
	}
	src, err := nn.NewInMemorySource(inputs, labels, mf.batchSize, true, *seed)
	if err != nil {
		return err
	}
	buf := nn.NewDataBuffer(src.Generate, nn.DataConfig{
		BatchSize: mf.batchSize,
		BufferLen: mf.batchSize * 4,
		InputDim:  tensor.NewDim(1, 1, 1, mf.features),
		LabelDim:  tensor.NewDim(1, 1, 1, 1),
	})
	if err := buf.Init(); err != nil {
		return err
	}

	bar := progressbar.NewOptions(*epochs*src.Batches(),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)
	err = net.Train(buf, *epochs, func(info nn.IterationInfo) {
		_ = bar.Add(1)
		bar.Describe(fmt.Sprintf("loss %.5f", info.Loss))
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	if err := net.Save(*out); err != nil {
		return err
	}
	st, err := os.Stat(*out)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s (%s), run %s, %d iterations\n",
		*out, humanize.IBytes(uint64(st.Size())), net.RunID(), net.Iteration())
	return nil
}

// makeDataset generates a noisy linear regression problem.
func makeDataset(samples, features int, seed int64) (*tensor.Tensor, *tensor.Tensor, error) {
	rng := rand.New(rand.NewSource(seed))
	inputs, err := tensor.New(tensor.NewDim(samples, 1, 1, features))
	if err != nil {
		return nil, nil, err
	}
	labels, err := tensor.New(tensor.NewDim(samples, 1, 1, 1))
	if err != nil {
		return nil, nil, err
	}
	coeffs := make([]float32, features)
	for i := range coeffs {
		coeffs[i] = float32(rng.NormFloat64())
	}
	in := inputs.Float32s()
	lb := labels.Float32s()
	for s := 0; s < samples; s++ {
		var y float32
		for f := 0; f < features; f++ {
			x := float32(rng.NormFloat64())
			in[s*features+f] = x
			y += coeffs[f] * x
		}
		lb[s] = y + 0.01*float32(rng.NormFloat64())
	}
	return inputs, labels, nil
}
