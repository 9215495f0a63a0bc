// autosnap - EC2 volume snapshot backups
// Snapshot. Tag. Prune.
package main

func main() {
	Execute()
}
