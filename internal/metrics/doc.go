/*
Package metrics provides Prometheus metric collection for harness runs.

Collector registers its vectors through promauto under a caller-chosen
namespace. Metrics cover batch runs, episodes, turns, memory traffic and
triggered defenses; a scrape during a long batch shows where episodes
spend their time and which defenses fire.

Prometheus observes the harness from outside. Nothing here feeds episode
traces or verdicts, which keep their own logical clock.
*/
package metrics
