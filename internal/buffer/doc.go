// Package buffer provides the growable queue that sits between producers
// (the head follower, the supervisor journal) and the database writers.
package buffer
