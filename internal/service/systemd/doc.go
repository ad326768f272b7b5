// Package systemd controls systemd units through the systemctl binary.
package systemd
