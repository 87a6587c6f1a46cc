// Copyright 2019 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package binary

import (
	"bytes"
	"testing"
)

func TestExpectBytes(t *testing.T) {
	testCases := []struct {
		want  []byte
		input []byte
		match bool
	}{
		{[]byte("TBI\x01"), []byte("TBI\x01"), true},
		{[]byte("TBI\x01"), []byte("TBI\x01EXTRA"), true},
		{[]byte("TBI\x01"), []byte("CSI\x01"), false},
		{[]byte("TBI\x01"), []byte("TBI"), false},
		{[]byte("TBI\x01"), []byte(""), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.input), func(t *testing.T) {
			err := ExpectBytes(bytes.NewReader(tc.input), tc.want)
			if err != nil && tc.match {
				t.Fatalf("ExpectBytes returned unexpected error: %v", err)
			} else if err == nil && !tc.match {
				t.Fatalf("ExpectBytes accepted mismatched input %q", tc.input)
			}
		})
	}
}

func TestReadWrite(t *testing.T) {
	var buffer bytes.Buffer

	values := struct {
		A int32
		B uint64
		C uint32
	}{-7, 1 << 40, 0xdeadbeef}
	if err := Write(&buffer, &values); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got struct {
		A int32
		B uint64
		C uint32
	}
	if err := Read(&buffer, &got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != values {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, values)
	}
}
