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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/counterfactual"
	"github.com/gomlx/counterfactual/tabular"
)

func init() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

const smallConfig = `
data:
  synthetic_rows: 200
  synthetic_seed: 7
dice:
  n_cfs: 2
  n_steps: 5
cchvae:
  enc_sizes: [8]
  dec_sizes: [8]
  encoded_size: 2
  lr: 0.01
  max_steps: 5
  n_search_samples: 20
  parallelism: 2
train:
  n_epochs: 1
  batch_size: 32
n_instances: 2
`

// run executes the command line with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestConfig(t *testing.T) {
	cfg, err := ReadConfig(strings.NewReader(smallConfig))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Data.SyntheticRows)
	assert.Equal(t, 5, cfg.DiCE.NumSteps)
	assert.Equal(t, 0.001, cfg.DiCE.LearningRate, "unset fields keep their defaults")
	assert.Equal(t, []int{8}, cfg.CCHVAE.EncSizes)
	assert.Equal(t, 2, cfg.NumInstances)

	_, err = ReadConfig(strings.NewReader("n_instances: 0\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
	_, err = ReadConfig(strings.NewReader("dice:\n  n_step: 3\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	out, err := run(t, "defaults")
	require.NoError(t, err)
	cfg, err := ReadConfig(strings.NewReader(out))
	require.NoError(t, err)
	want := DefaultConfig()
	assert.Equal(t, want.DiCE, cfg.DiCE)
	assert.Equal(t, want.CCHVAE, cfg.CCHVAE)
	assert.Equal(t, want.Train, cfg.Train)
	assert.Equal(t, want.Data.SyntheticRows, cfg.Data.SyntheticRows)
	assert.Equal(t, want.NumInstances, cfg.NumInstances)
}

func TestSyntheticData(t *testing.T) {
	m, err := syntheticData(40, 3)
	require.NoError(t, err)
	assert.Equal(t, 30, m.NumRows(tabular.Train))
	assert.Equal(t, 10, m.NumRows(tabular.Test))
	assert.Equal(t, []string{"age", "hours", "sector"}, m.Features().Names())
	assert.Equal(t, len(syntheticWeights), m.Features().Width())
	assert.True(t, m.Features().Features()[0].IsImmutable())

	again, err := syntheticData(40, 3)
	require.NoError(t, err)
	assert.Equal(t, m.Features().Data(), again.Features().Data())

	_, err = linearPredictor(PredictorConfig{}, m.Features().Width())
	require.NoError(t, err)
	_, err = linearPredictor(PredictorConfig{Weights: []float64{1, 2}}, m.Features().Width())
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}

func TestDiCECommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	outputDir := t.TempDir()
	out, err := run(t, "dice", "--config", writeConfig(t, smallConfig), "--output", outputDir, "--plot")
	require.NoError(t, err)
	assert.Contains(t, out, "DiverseCF, instance #0")
	assert.Contains(t, out, "DiverseCF, instance #1")
	assert.NotContains(t, out, "instance #2")
	assert.Contains(t, out, "sector")

	plots, err := filepath.Glob(filepath.Join(outputDir, "counterfactual-*", "dice_loss_*.png"))
	require.NoError(t, err)
	assert.Len(t, plots, 2)
}

func TestCCHVAECommand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}
	configPath := writeConfig(t, smallConfig)
	checkpoint := filepath.Join(t.TempDir(), "vae")
	out, err := run(t, "cchvae", "--config", configPath, "--checkpoint", checkpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "VAE trained for 1 epochs")
	assert.Contains(t, out, "C-CHVAE, instance #1")
	assert.Contains(t, out, "2 instances searched")

	// The second run loads the checkpoint instead of training.
	out, err = run(t, "cchvae", "--config", configPath, "--checkpoint", checkpoint)
	require.NoError(t, err)
	assert.NotContains(t, out, "VAE trained")
	assert.Contains(t, out, "2 instances searched")

	out, err = run(t, "vars", checkpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "/cchvae/encoder")
	assert.Contains(t, out, "/cchvae/decoder")

	_, err = run(t, "vars", t.TempDir())
	require.ErrorIs(t, err, counterfactual.ErrModuleNotTrained)
}

func TestSplitParameterName(t *testing.T) {
	scope, name := splitParameterName("var:/cchvae/encoder/mu_z/dense/weights")
	assert.Equal(t, "/cchvae/encoder/mu_z/dense", scope)
	assert.Equal(t, "weights", name)
	scope, name = splitParameterName("var:/rngState")
	assert.Equal(t, "/", scope)
	assert.Equal(t, "rngState", name)
}

func TestInvalidPredictor(t *testing.T) {
	_, err := run(t, "dice", "--config", writeConfig(t, smallConfig+"predictor:\n  weights: [1, 2, 3]\n"))
	require.ErrorIs(t, err, counterfactual.ErrConstruction)
}
