/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// counterfactual explains the predictions of a logistic model on tabular data with
// DiverseCF and C-CHVAE counterfactuals.
//
// The data is a CSV table or a synthetic dataset; see Config for the YAML configuration.
// Examples:
//
//	counterfactual dice --config=run.yaml --plot
//	counterfactual cchvae --checkpoint=~/tmp/cchvae
//	counterfactual vars ~/tmp/cchvae
//	counterfactual defaults > run.yaml
package main

import (
	goflag "flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/features"
	"github.com/gomlx/counterfactual/methods/cchvae"
	"github.com/gomlx/counterfactual/methods/dice"
	"github.com/gomlx/counterfactual/tabular"
)

func main() {
	klog.InitFlags(nil)
	if err := newRootCmd().Execute(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

// options shared by the commands.
type options struct {
	configPath string
	outputDir  string
	plot       bool
	checkpoint string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "counterfactual",
		Short:         "Counterfactual explanations of a logistic model on tabular data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().AddGoFlagSet(goflag.CommandLine)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file. If empty the defaults are used.")
	root.PersistentFlags().StringVar(&opts.outputDir, "output", "", "Directory where each run writes its files, in a sub-directory named after the run id. Defaults to a temporary directory.")

	diceCmd := &cobra.Command{
		Use:   "dice",
		Short: "Search diverse counterfactuals by gradient descent (DiverseCF)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return s.runDiCE(opts.plot)
		},
	}
	diceCmd.Flags().BoolVar(&opts.plot, "plot", false, "Save a PNG plot of the loss of each search in the run directory.")

	cchvaeCmd := &cobra.Command{
		Use:   "cchvae",
		Short: "Train a VAE and search counterfactuals in its latent space (C-CHVAE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return s.runCCHVAE(opts.checkpoint)
		},
	}
	cchvaeCmd.Flags().StringVar(&opts.checkpoint, "checkpoint", "",
		"Directory of the VAE checkpoint: loaded if it holds one, otherwise the VAE is trained and saved there.")

	defaultsCmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(DefaultConfig()); err != nil {
				return errors.Wrap(err, "failed to encode default configuration")
			}
			return enc.Close()
		},
	}

	varsCmd := &cobra.Command{
		Use:   "vars <checkpoint_dir>",
		Short: "List the variables of a saved C-CHVAE checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := backends.NewOrErr()
			if err != nil {
				return errors.WithMessage(err, "failed to create backend")
			}
			return listVariables(backend, cmd.OutOrStdout(), data.ReplaceTildeInDir(args[0]))
		},
	}

	root.AddCommand(diceCmd, cchvaeCmd, defaultsCmd, varsCmd)
	return root
}

// session holds what the commands share: the configuration, backend, data and predictor.
type session struct {
	cfg       Config
	runID     uuid.UUID
	runDir    string
	out       io.Writer
	backend   backends.Backend
	module    *tabular.Module
	predictor counterfactual.Predictor
	predict   *Exec
}

func newSession(opts *options, out io.Writer) (*session, error) {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, runID: uuid.New(), out: out}
	outputDir := data.ReplaceTildeInDir(opts.outputDir)
	if outputDir == "" {
		outputDir = os.TempDir()
	}
	s.runDir = filepath.Join(outputDir, "counterfactual-"+s.runID.String())
	klog.V(1).Infof("run %s: configuration %+v", s.runID, cfg)

	s.backend, err = backends.NewOrErr()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create backend")
	}
	s.module, err = loadData(cfg.Data)
	if err != nil {
		return nil, err
	}
	s.predictor, err = linearPredictor(cfg.Predictor, s.module.Features().Width())
	if err != nil {
		return nil, err
	}
	s.predict = NewExec(s.backend, func(x *Node) *Node { return s.predictor(nil, x) })
	fmt.Fprintf(out, "%s %s, %s training rows, %d features encoded in %d columns\n",
		titleStyle.Render("Run"), s.runID, humanize.Comma(int64(s.module.NumRows(tabular.Train))),
		s.module.Features().Len(), s.module.Features().Width())
	return s, nil
}

// instances returns the first NumInstances test rows, as rows and as a `[n, k]` tensor.
func (s *session) instances() ([][]float64, *tensors.Tensor, error) {
	x, _ := s.module.Data(tabular.Test)
	rows, err := features.TensorToRows(x)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) > s.cfg.NumInstances {
		rows = rows[:s.cfg.NumInstances]
	}
	if len(rows) == 0 {
		return nil, nil, counterfactual.ConstructionErrorf("no test rows to explain")
	}
	return rows, features.RowsToTensor(rows, s.module.Features().Width(), x.DType()), nil
}

// predictions of the rows, shaped `[n, k]`, as probabilities of the positive label.
func (s *session) predictions(rows *tensors.Tensor) ([]float64, error) {
	var predictions *tensors.Tensor
	err := exceptions.TryCatch[error](func() { predictions = s.predict.Call(rows)[0] })
	if err != nil {
		return nil, errors.WithMessage(err, "failed to run predictor")
	}
	return counterfactual.FloatValues(predictions)
}

// report prints the table of the instance followed by its counterfactuals.
func (s *session) report(title string, instance []float64, cfs [][]float64) error {
	all := append([][]float64{instance}, cfs...)
	allTensor := features.RowsToTensor(all, s.module.Features().Width(), dtypes.Float32)
	predictions, err := s.predictions(allTensor)
	if err != nil {
		return err
	}
	df, err := s.module.Features().DataFrame(all)
	if err != nil {
		return err
	}
	rows := make([]row, len(all))
	original := predictions[0] >= 0.5
	numValid := 0
	for ii := range rows {
		rows[ii] = row{label: fmt.Sprintf("cf #%d", ii), prediction: predictions[ii]}
		if ii == 0 {
			rows[ii].label = "instance"
			continue
		}
		rows[ii].valid = (predictions[ii] >= 0.5) != original
		if rows[ii].valid {
			numValid++
		}
	}
	if numValid < len(cfs) {
		klog.Warningf("%s: %d of %d counterfactuals don't flip the prediction", title, len(cfs)-numValid, len(cfs))
	}
	fmt.Fprintf(s.out, "\n%s %s\n%s\n", titleStyle.Render(title),
		mutedStyle.Render(fmt.Sprintf("(%d of %d counterfactuals flip the prediction)", numValid, len(cfs))),
		renderTable(df, rows))
	return nil
}

func (s *session) runDiCE(withPlot bool) error {
	d, err := dice.New(s.backend, nil, s.predictor, s.module.Features(), s.cfg.DiCE)
	if err != nil {
		return err
	}
	instances, _, err := s.instances()
	if err != nil {
		return err
	}
	if withPlot {
		if err = os.MkdirAll(s.runDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create run directory %q", s.runDir)
		}
	}
	width := s.module.Features().Width()
	for ii, instance := range instances {
		start := time.Now()
		result, err := d.Search(features.RowsToTensor([][]float64{instance}, width, dtypes.Float32), nil)
		if err != nil {
			return errors.WithMessagef(err, "instance #%d", ii)
		}
		elapsed := time.Since(start)
		cfs, err := features.TensorToRows(result.CFs)
		if err != nil {
			return err
		}
		title := fmt.Sprintf("%s, instance #%d, %s", d.Name(), ii, formatDuration(elapsed))
		if err = s.report(title, instance, cfs); err != nil {
			return err
		}
		if withPlot {
			path := filepath.Join(s.runDir, fmt.Sprintf("dice_loss_%d.png", ii))
			if err = plotLoss(fmt.Sprintf("%s loss, instance #%d", d.Name(), ii), result.LossHistory, path); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%s\n", mutedStyle.Render("loss plot: "+path))
		}
	}
	return nil
}

func (s *session) runCCHVAE(checkpoint string) error {
	c, err := cchvae.New(s.backend, context.New(), s.predictor, s.module.Features(), s.cfg.CCHVAE)
	if err != nil {
		return err
	}
	checkpoint = data.ReplaceTildeInDir(checkpoint)
	if checkpoint != "" {
		err = c.Load(checkpoint)
		if err != nil && !errors.Is(err, counterfactual.ErrModuleNotTrained) {
			return err
		}
	}
	if !c.IsTrained() {
		x, _ := s.module.Data(tabular.Train)
		start := time.Now()
		if err = c.Train(x, s.cfg.Train); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s VAE trained for %d epochs in %s\n", titleStyle.Render(c.Name()),
			s.cfg.Train.Epochs, formatDuration(time.Since(start)))
		if checkpoint != "" {
			if err = c.Save(checkpoint); err != nil {
				return err
			}
		}
	}

	instances, batch, err := s.instances()
	if err != nil {
		return err
	}
	start := time.Now()
	cfs, found, err := c.GenerateCFs(batch)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	rows, err := features.TensorToRows(cfs)
	if err != nil {
		return err
	}
	for ii, instance := range instances {
		title := fmt.Sprintf("%s, instance #%d", c.Name(), ii)
		var instanceCFs [][]float64
		if found[ii] {
			instanceCFs = [][]float64{rows[ii]}
		} else {
			title += ", no counterfactual found"
		}
		if err = s.report(title, instance, instanceCFs); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "\n%d instances searched in %s\n", len(instances), formatDuration(elapsed))
	return nil
}
