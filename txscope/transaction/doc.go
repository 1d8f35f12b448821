// Package transaction defines transaction attributes, rollback rules and the
// two kinds of transaction manager a caller can drive: plain managers
// (begin, commit, rollback) and callback managers that run a function inside
// a transaction of their own making.
//
// Manager is a propagation engine implementing the plain kind on top of a
// Driver for a concrete resource. It handles joining, suspending, nesting
// through savepoints and the synchronization lifecycle; drivers only begin,
// commit and roll back physical transactions.
package transaction
