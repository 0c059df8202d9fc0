package emit

// runtimeSource is the module registry installed by runtime chunks. It is
// completed with the public path and the lazy chunk map, both JSON encoded.
// A second runtime on the same page merges its lazy map into the first.
const runtimeSource = `(function (global, publicPath, lazy) {
  var existing = global.__assetpipe__;
  if (existing) {
    existing.extend(lazy);
    return;
  }

  var modules = {};
  var cache = {};
  var installed = {};
  var pending = {};

  function require(id) {
    var cached = cache[id];
    if (cached) {
      return cached.exports;
    }
    var factory = modules[id];
    if (!factory) {
      throw new Error("module not found: " + id);
    }
    var module = (cache[id] = { id: id, exports: {} });
    factory.call(module.exports, module, module.exports, require);
    return module.exports;
  }

  function define(chunk, definitions) {
    installed[chunk] = true;
    for (var id in definitions) {
      if (!Object.prototype.hasOwnProperty.call(modules, id)) {
        modules[id] = definitions[id];
      }
    }
  }

  function fetchFile(key, file) {
    if (installed[key]) {
      return Promise.resolve();
    }
    if (pending[key]) {
      return pending[key];
    }
    pending[key] = new Promise(function (resolve, reject) {
      var doc = global.document;
      var node;
      if (/\.css$/.test(file)) {
        node = doc.createElement("link");
        node.rel = "stylesheet";
        node.href = publicPath + file;
      } else {
        node = doc.createElement("script");
        node.src = publicPath + file;
        node.async = true;
      }
      node.onload = function () {
        installed[key] = true;
        resolve();
      };
      node.onerror = function () {
        delete pending[key];
        reject(new Error("failed to load chunk " + file));
      };
      doc.head.appendChild(node);
    });
    return pending[key];
  }

  function load(id) {
    var files = lazy[id] || [];
    return Promise.all(
      files.map(function (entry) {
        return fetchFile(entry[0], entry[1]);
      })
    ).then(function () {
      return require(id);
    });
  }

  function extend(more) {
    for (var id in more) {
      if (!Object.prototype.hasOwnProperty.call(lazy, id)) {
        lazy[id] = more[id];
      }
    }
  }

  global.__assetpipe__ = {
    define: define,
    require: require,
    load: load,
    extend: extend
  };
})(typeof self !== "undefined" ? self : this, %s, %s);
`
