package metrics

const namespace = "campusstore"
