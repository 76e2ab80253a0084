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
	"fmt"
	"os"
	"os/exec"
	"path"
)

const (
	SuiteBinaryName = "load_suite"
	suiteMain       = "cmd/load/main.go"
)

var supportedPlatforms = map[string]bool{"linux": true, "darwin": true}

// BuildSuiteCommand builds the standalone suite binary of a load scripts dir for platform
func BuildSuiteCommand(testDir string, platform string) error {
	if !supportedPlatforms[platform] {
		return fmt.Errorf("platform must be one of: linux|darwin, got %q", platform)
	}
	cmd := exec.Command("go", "build", "-o", SuiteBinaryName, "./"+path.Join(testDir, suiteMain))
	cmd.Env = append(os.Environ(), "GOOS="+platform)
	L().Debugf("executing cmd: %s", cmd.String())
	res, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to build suite: out: %s err: %w", res, err)
	}
	return nil
}
