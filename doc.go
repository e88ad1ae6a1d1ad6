/*
Package folka is a stateful stream processing library for Apache Kafka.

A processor consumes one or more co-partitioned input topics, optionally
reshuffles messages via the group's repartition topic, and folds them into a
keyed group table. The table is kept in local storage and every change is
logged to a compacted table topic, so a restarting processor instance can
recover its partitions' state from Kafka. Views replicate a complete group
table into local storage for read access, and emitters write messages into
input topics from outside the processor group.
*/
package folka
