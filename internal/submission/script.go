package submission

import "fmt"

// entryPointScript builds the shell script the workload runs via /bin/sh -c
// that reassembles shards in numeric order, base64-decodes, unzips, locates
// the first *.sumocfg, runs the simulator, and copies outputs to the
// mounted result volume.
func entryPointScript(numChunks int, jobID string) string {
	reassemble := "cat /config/sumo_files.zip.b64 | base64 -d > sumo_files.zip"
	if numChunks > 1 {
		reassemble = fmt.Sprintf(`for i in $(seq 0 %d); do
    cat /config/chunk$i/chunk >> sumo_files.zip.b64
done
base64 -d sumo_files.zip.b64 > sumo_files.zip
rm sumo_files.zip.b64`, numChunks-1)
	}

	return fmt.Sprintf(`#!/bin/sh
set -e
mkdir -p /workspace
cd /workspace

%s

if ! command -v unzip >/dev/null 2>&1; then
    apt-get update -qq && apt-get install -y -qq unzip >/dev/null 2>&1 || apk add --no-cache unzip >/dev/null 2>&1
fi

unzip -q sumo_files.zip
rm sumo_files.zip

CONFIG_FILE=$(find . -name "*.sumocfg" | head -1)
if [ -z "$CONFIG_FILE" ]; then
    echo "no .sumocfg file found after unzip"
    exit 1
fi

sumo -c "$CONFIG_FILE" || exit 1

if [ -d /results ]; then
    mkdir -p /results/%s
    cp -r /workspace/*.xml /workspace/*.txt /workspace/*.log /results/%s/ 2>/dev/null || true
fi
`, reassemble, jobID, jobID)
}
