//  Copyright (c) 2017-2018 Uber Technologies, Inc.
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

package diskstore

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/utils"
)

const files string = "files"
const fileSuffix string = ".parquet"

// Utils for data file layout.
// Keys use forward slashes whatever the platform:
//   files/{org}/{stream_type}/{stream}/{yyyy}/{mm}/{dd}/{hh}/{min_ts}_{id}.parquet
//
// Sample:
//   files/default/logs/nginx/2024/03/01/08/1709280000000000_0b6f8e1c.parquet

// GetKeyForStream returns the key prefix of every file of a stream.
func GetKeyForStream(stream metaCom.StreamRef) string {
	return path.Join(files, stream.Org, string(stream.Type), stream.Name)
}

// GetKeyForPartition returns the key prefix of the hourly partition holding ts
// in microseconds.
func GetKeyForPartition(stream metaCom.StreamRef, ts int64) string {
	t := time.Unix(0, ts*int64(time.Microsecond)).UTC()
	return path.Join(GetKeyForStream(stream), t.Format("2006/01/02/15"))
}

// GetKeyForFile returns the key of a data file whose earliest row is minTs.
func GetKeyForFile(stream metaCom.StreamRef, minTs int64, id string) string {
	return path.Join(GetKeyForPartition(stream, minTs), fmt.Sprintf("%d_%s%s", minTs, id, fileSuffix))
}

// ParseFileKey parses a data file key into its stream and earliest timestamp.
func ParseFileKey(key string) (metaCom.StreamRef, int64, error) {
	var stream metaCom.StreamRef
	splits := strings.Split(key, "/")
	if len(splits) != 9 || splits[0] != files || !strings.HasSuffix(splits[8], fileSuffix) {
		return stream, 0, utils.StackError(nil, "Failed to parse file key: %s", key)
	}
	typ, ok := metaCom.ParseStreamType(splits[2])
	if !ok {
		return stream, 0, utils.StackError(nil, "Unknown stream type in file key: %s", key)
	}
	stream = metaCom.StreamRef{Org: splits[1], Type: typ, Name: splits[3]}
	name := strings.TrimSuffix(splits[8], fileSuffix)
	minTs, err := strconv.ParseInt(strings.SplitN(name, "_", 2)[0], 10, 64)
	if err != nil {
		return stream, 0, utils.StackError(err, "Failed to parse min timestamp of file key: %s", key)
	}
	return stream, minTs, nil
}
