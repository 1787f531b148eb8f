// Command crawler runs the phenocrawler ingestion pipeline: discover,
// download, unpack, validate, upload, and rebuild the overview database
// for every configured data source, either once or on a fixed period.
package main

import "github.com/phenodcc/crawler/cmd/crawler/cmd"

func main() {
	cmd.Execute()
}
