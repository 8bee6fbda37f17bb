// Copyright 2025 Toby Haynes
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import "context"

// StartHandler handles workflow entry blocks. The output is simply the
// run inputs, so downstream blocks can reference <start.field>.
type StartHandler struct{}

func (h *StartHandler) Handles(blockType string) bool {
	return typeIn(blockType, "start", "start_trigger", "starter")
}

func (h *StartHandler) Execute(_ context.Context, ec *ExecutionContext, _ *Block, _ map[string]any) (any, error) {
	return ec.Inputs, nil
}
