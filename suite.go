/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package sessionload

import (
	"context"
	"flag"
	"fmt"
	"os"
)

// AttackerFactory returns the prototype Attack of a handle, nil for unknown handles.
type AttackerFactory func(string) Attack

// ChecksFactory returns a custom runtime check of a handle, nil means default checks.
type ChecksFactory func(string) RuntimeCheckFunc

type BeforeSuite func(config *GeneratorConfig) error
type AfterSuite func(config *GeneratorConfig) error

// SuiteOptions describes one suite run.
type SuiteOptions struct {
	SuiteConfigPath     string
	GeneratorConfigPath string
	Factory             AttackerFactory
	ChecksFactory       ChecksFactory
	BeforeSuite         BeforeSuite
	AfterSuite          AfterSuite
}

// Run default run mode for suite binaries, with error and degradation checks, exits the process
func Run(factory AttackerFactory, checksFactory ChecksFactory, beforeSuite BeforeSuite, afterSuite AfterSuite) {
	cfgPath := flag.String("config", "", "loadtest attack profile config filepath")
	genCfgPath := flag.String("gen_config", "generator.yaml", "generator config filepath")
	flag.Parse()
	if *cfgPath == "" {
		L().Fatal("provide path to suite config, -config example.yaml")
	}
	lm, err := RunSuiteFromFiles(context.Background(), SuiteOptions{
		SuiteConfigPath:     *cfgPath,
		GeneratorConfigPath: *genCfgPath,
		Factory:             factory,
		ChecksFactory:       checksFactory,
		BeforeSuite:         beforeSuite,
		AfterSuite:          afterSuite,
	})
	if err != nil {
		L().Fatal(err)
	}
	if lm.Failed || lm.Degradation {
		os.Exit(1)
	}
}

// RunSuiteFromFiles loads configs, runs every step, stores reports and checks them
func RunSuiteFromFiles(ctx context.Context, o SuiteOptions) (*LoadManager, error) {
	genConfig, err := LoadDefaultGeneratorConfig(o.GeneratorConfigPath)
	if err != nil {
		return nil, err
	}
	suiteCfg, err := LoadSuiteConfig(o.SuiteConfigPath)
	if err != nil {
		return nil, err
	}
	lm, err := SuiteFromSteps(o.Factory, o.ChecksFactory, suiteCfg, genConfig)
	if err != nil {
		return nil, err
	}
	defer lm.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopSignals := lm.HandleShutdownSignal(cancel)
	defer stopSignals()

	if genConfig.Host.CollectMetrics {
		L().Infof("starting host metrics monitor")
		hm, err := NewHostOSMetrics(genConfig.Host.Name, genConfig.Host.NetworkIface)
		if err != nil {
			return nil, err
		}
		hm.Watch(ctx, 1)
		defer hm.Close()
	}
	if o.BeforeSuite != nil {
		if err := o.BeforeSuite(genConfig); err != nil {
			return nil, fmt.Errorf("before suite func failed: %w", err)
		}
	}
	if err := lm.RunSuite(ctx); err != nil {
		return lm, err
	}
	if o.AfterSuite != nil {
		if err := o.AfterSuite(genConfig); err != nil {
			return lm, fmt.Errorf("after suite func failed: %w", err)
		}
	}
	lm.CheckErrors()
	if err := lm.CheckDegradation(); err != nil {
		return lm, err
	}
	if err := lm.StoreHandleReports(); err != nil {
		return lm, err
	}
	for _, rep := range lm.Reports {
		PrintSummary(os.Stdout, rep)
	}
	return lm, nil
}

// SuiteFromSteps create runners for every step
func SuiteFromSteps(factory AttackerFactory, checksFactory ChecksFactory, cfg *SuiteConfig, genCfg *GeneratorConfig) (*LoadManager, error) {
	lm, err := NewLoadManager(cfg, genCfg)
	if err != nil {
		return nil, err
	}
	for _, step := range cfg.Steps {
		runners := make([]*Runner, 0)
		for _, handle := range step.Handles {
			var check RuntimeCheckFunc
			if checksFactory != nil {
				check = checksFactory(handle.HandleName)
			}
			a := factory(handle.HandleName)
			if a == nil {
				lm.Close()
				return nil, fmt.Errorf("unknown attacker type: %s", handle.HandleName)
			}
			r, err := NewRunner(handle.HandleName, lm, a, check, handle)
			if err != nil {
				lm.Close()
				return nil, err
			}
			runners = append(runners, r)
		}
		lm.Steps = append(lm.Steps, RunStep{
			Name:          step.Name,
			ExecutionMode: step.ExecutionMode,
			Runners:       runners,
		})
	}
	return lm, nil
}

// TestHandle performs count calls of one handle against the generator target, no load is generated
func TestHandle(ctx context.Context, genCfg *GeneratorConfig, factory AttackerFactory, handle string, count int) ([]DoResult, error) {
	a := factory(handle)
	if a == nil {
		return nil, fmt.Errorf("unknown attacker type: %s", handle)
	}
	lm, err := NewLoadManager(nil, genCfg)
	if err != nil {
		return nil, err
	}
	defer lm.Close()
	r, err := NewRunner(handle, lm, a, nil, RunnerConfig{
		HandleName:    handle,
		Users:         1,
		AttackTimeSec: 1,
		Verbose:       true,
	})
	if err != nil {
		return nil, err
	}
	return r.Test(ctx, count)
}
